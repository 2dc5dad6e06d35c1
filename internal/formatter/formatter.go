package formatter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/query"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatLong  OutputFormat = "long"
	FormatShort OutputFormat = "short"
	FormatTable OutputFormat = "table"
)

const maxDescriptionLen = 80

// Details is everything the catalog knows about one repository.
type Details struct {
	Repo       storage.RepositoryRecord
	Star       *storage.StarRecord
	Annotation *storage.Annotation
	Tags       []storage.Tag
	Chunks     []storage.EmbeddingChunk
}

// Formatter handles repository output formatting
type Formatter struct {
	now func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// FormatRepository renders one catalog entry.
func (f *Formatter) FormatRepository(d Details, format OutputFormat) string {
	if format == FormatLong {
		return f.formatLong(d)
	}

	return f.header(d.Repo.FullName, d.Repo.URL) + "\n" + "Description: " + orDash(d.Repo.Description)
}

func (f *Formatter) header(fullName, url string) string {
	if url == "" {
		url = "https://github.com/" + fullName
	}

	return fmt.Sprintf("%s  (link: %s)", fullName, url)
}

func (f *Formatter) formatLong(d Details) string {
	repo := d.Repo

	lines := []string{
		f.header(repo.FullName, repo.URL),
		"Description: " + orDash(repo.Description),
		"Homepage: " + orDash(repo.Homepage),
		fmt.Sprintf("Numbers: %s stars, %s forks, %s watchers, %s open issues",
			humanize.Comma(int64(repo.StargazersCount)), humanize.Comma(int64(repo.ForksCount)),
			humanize.Comma(int64(repo.WatchersCount)), humanize.Comma(int64(repo.OpenIssuesCount))),
		"Language: " + orDash(repo.Language),
		"License: " + orDash(firstNonEmpty(repo.LicenseSPDXID, repo.LicenseName)),
		"Topics: " + orDash(strings.Join(repo.Topics, ", ")),
		"Created: " + f.age(repo.CreatedAt),
		"Last push: " + f.age(repo.PushedAt),
	}

	if flags := repoFlags(repo); flags != "" {
		lines = append(lines, "Flags: "+flags)
	}

	if d.Star != nil {
		lines = append(lines, "Starred: "+f.age(&d.Star.StarredAt))
	}

	summary := "-"
	if d.Annotation != nil {
		summary = fmt.Sprintf("%s (%s, %s)", d.Annotation.Summary, d.Annotation.Model, f.age(&d.Annotation.LastIndexedAt))
	}

	lines = append(lines,
		"Summary: "+summary,
		"Tags: "+orDash(tagNames(d.Tags)),
		"Embeddings: "+chunkSummary(d.Chunks),
	)

	if repo.NeedsReindex {
		lines = append(lines, "Needs reindex: yes")
	}

	if repo.NeedsAnnotation {
		lines = append(lines, "Needs annotation: yes")
	}

	lines = append(lines, "Last synced: "+f.age(&repo.LastSyncedAt))

	return strings.Join(lines, "\n")
}

// FormatResult formats a single search result
func (f *Formatter) FormatResult(result query.Result, format OutputFormat) string {
	line := fmt.Sprintf("%d. %s  Score:%.2f", result.Rank, result.FullName, result.Score)

	lines := []string{line, "   " + orDash(truncate(result.Description, maxDescriptionLen))}

	if format == FormatLong {
		if result.Summary != "" {
			lines = append(lines, "   Summary: "+result.Summary)
		}

		if len(result.MatchFields) > 0 {
			lines = append(lines, "   Matched: "+strings.Join(result.MatchFields, ", "))
		}
	}

	if result.Snippet != "" {
		lines = append(lines, fmt.Sprintf("   [%s] %s", result.Source, truncate(result.Snippet, maxDescriptionLen)))
	}

	return strings.Join(lines, "\n")
}

// FormatResults renders search results in the requested format.
func (f *Formatter) FormatResults(results []query.Result, format OutputFormat) string {
	if len(results) == 0 {
		return "No repositories found."
	}

	if format == FormatTable {
		return renderTable([]string{"#", "Repository", "Score", "Description"}, func(add func(...string)) {
			for _, r := range results {
				add(fmt.Sprint(r.Rank), r.FullName, fmt.Sprintf("%.2f", r.Score), truncate(r.Description, 60))
			}
		})
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = f.FormatResult(r, format)
	}

	return strings.Join(parts, "\n\n")
}

// FormatRepositories renders a catalog listing as a table.
func (f *Formatter) FormatRepositories(repos []storage.RepositoryRecord) string {
	return renderTable([]string{"ID", "Repository", "Language", "Stars", "Synced"}, func(add func(...string)) {
		for _, r := range repos {
			synced := r.LastSyncedAt
			add(fmt.Sprint(r.ID), r.FullName, orDash(r.Language),
				humanize.Comma(int64(r.StargazersCount)), f.age(&synced))
		}
	})
}

// FormatJobs renders sync jobs, most recent first.
func (f *Formatter) FormatJobs(jobs []storage.SyncJob) string {
	if len(jobs) == 0 {
		return "No sync jobs recorded."
	}

	return renderTable([]string{"Job", "Trigger", "Status", "Started", "Duration", "Processed", "Vectors", "Skipped", "Failed"},
		func(add func(...string)) {
			for _, j := range jobs {
				started := j.StartedAt
				add(shortID(j.ID), j.TriggeredBy, string(j.Status), f.age(&started), duration(j.DurationSeconds),
					fmt.Sprint(j.ReposProcessed), fmt.Sprint(j.VectorsUpserted),
					fmt.Sprint(j.ReposSkipped), fmt.Sprint(j.ReposFailed))
			}
		})
}

// FormatTags renders the tag vocabulary.
func (f *Formatter) FormatTags(tags []storage.Tag) string {
	if len(tags) == 0 {
		return "No tags defined."
	}

	return renderTable([]string{"ID", "Tag", "Repositories"}, func(add func(...string)) {
		for _, t := range tags {
			add(fmt.Sprint(t.ID), t.Name, fmt.Sprint(t.RepoCount))
		}
	})
}

// FormatStats renders catalog statistics.
func (f *Formatter) FormatStats(stats *storage.Stats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repositories:  %s\n", humanize.Comma(int64(stats.TotalRepositories)))
	fmt.Fprintf(&b, "Stars:         %s\n", humanize.Comma(int64(stats.TotalStars)))
	fmt.Fprintf(&b, "Embeddings:    %s\n", humanize.Comma(int64(stats.TotalEmbeddings)))
	fmt.Fprintf(&b, "Annotations:   %s\n", humanize.Comma(int64(stats.TotalAnnotations)))
	fmt.Fprintf(&b, "Tags:          %s\n", humanize.Comma(int64(stats.TotalTags)))
	fmt.Fprintf(&b, "Needs reindex: %d\n", stats.NeedsReindex)
	fmt.Fprintf(&b, "Database size: %s\n", humanize.Bytes(uint64(stats.DatabaseSizeMB*1024*1024)))

	if !stats.LastSyncTime.IsZero() {
		fmt.Fprintf(&b, "Last sync:     %s\n", f.age(&stats.LastSyncTime))
	}

	if stats.LastJob != nil {
		fmt.Fprintf(&b, "Last job:      %s (%s)\n", shortID(stats.LastJob.ID), stats.LastJob.Status)
	}

	if len(stats.LanguageBreakdown) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Language", "Repositories"}, func(add func(...string)) {
			for _, lang := range sortedByCount(stats.LanguageBreakdown) {
				add(lang, fmt.Sprint(stats.LanguageBreakdown[lang]))
			}
		}))
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatSyncResult summarises one batch.
func (f *Formatter) FormatSyncResult(r *syncer.Result) string {
	lines := []string{
		fmt.Sprintf("Sync %s: %s", shortID(r.JobID), r.Status),
		fmt.Sprintf("  processed %d (inserted %d), skipped %d, conflicts %d, degraded %d",
			r.Processed, r.Inserted, r.Skipped, r.Conflicts, r.Failed),
		fmt.Sprintf("  vectors: %d written, %d unchanged, %d deleted",
			r.VectorsUpserted, r.VectorsUnchanged, r.VectorsDeleted),
	}

	if r.Annotated > 0 {
		lines = append(lines, fmt.Sprintf("  annotated %d", r.Annotated))
	}

	if len(r.Pruned) > 0 {
		lines = append(lines, fmt.Sprintf("  pruned %d", len(r.Pruned)))
	}

	for _, item := range r.Items {
		if item.Err != nil {
			lines = append(lines, fmt.Sprintf("  %s %s: %v", item.Outcome, orDash(item.FullName), item.Err))
		}
	}

	return strings.Join(lines, "\n")
}

func renderTable(header []string, rows func(add func(...string))) string {
	var b strings.Builder

	table := tablewriter.NewWriter(&b)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(true)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	rows(func(cells ...string) { table.Append(cells) })
	table.Render()

	return strings.TrimRight(b.String(), "\n")
}

func (f *Formatter) age(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "?"
	}

	return humanize.RelTime(*t, f.now(), "ago", "from now")
}

func chunkSummary(chunks []storage.EmbeddingChunk) string {
	if len(chunks) == 0 {
		return "none"
	}

	counts := make(map[processor.Source]int)
	for _, c := range chunks {
		counts[c.Source]++
	}

	var parts []string

	for _, source := range processor.Sources {
		if n := counts[source]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", source, n))
		}
	}

	return fmt.Sprintf("%d chunks (%s, model %s)", len(chunks), strings.Join(parts, ", "), chunks[0].Model)
}

func repoFlags(repo storage.RepositoryRecord) string {
	var flags []string

	if repo.IsFork {
		flags = append(flags, "fork")
	}

	if repo.IsArchived {
		flags = append(flags, "archived")
	}

	if repo.IsPrivate {
		flags = append(flags, "private")
	}

	if repo.IsDisabled {
		flags = append(flags, "disabled")
	}

	return strings.Join(flags, ", ")
}

func tagNames(tags []storage.Tag) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}

	return strings.Join(names, ", ")
}

func sortedByCount(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}

		return keys[i] < keys[j]
	})

	return keys
}

func duration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}

	return (time.Duration(*seconds * float64(time.Second))).Round(time.Millisecond).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n-3]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
