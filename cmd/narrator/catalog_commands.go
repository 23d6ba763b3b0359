package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-narrator/internal/catalog"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/storage"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		state   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cataloged manuscripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd.Context(), func(store *catalog.Store) error {
				ms, err := store.List(cmd.Context(), manuscript.State(state))
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, summaries(ms))
				}
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(ms) == 0 {
					fmt.Fprintln(out, "No manuscripts")
					return nil
				}
				rows := make([][]string, 0, len(ms))
				for _, m := range ms {
					rows = append(rows, []string{
						displayID(m.ID),
						string(m.State),
						progressLabel(m.Progress),
						strconv.Itoa(len(m.Sections)),
						lastModLabel(m.LastModified),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "State", "Progress", "Sections", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintln(out, statsLine(stats))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only list manuscripts in this state (generating, done, error, disallowed)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a manuscript and its sections",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := manuscript.HomeID
			if len(args) == 1 {
				id = manuscript.IDFromPath(args[0])
			}
			return ctx.withCatalog(cmd.Context(), func(store *catalog.Store) error {
				m, found, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("manuscript %s not found", displayID(id))
				}
				if jsonOut {
					return writeJSON(cmd, m)
				}
				printManuscript(cmd.OutOrStdout(), m)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func printManuscript(out io.Writer, m manuscript.Manuscript) {
	fmt.Fprintf(out, "%s (%s)\n", m.Title, m.State)
	if m.URL != "" {
		fmt.Fprintf(out, "Source:   %s\n", m.URL)
	}
	fmt.Fprintf(out, "Updated:  %s\n", lastModLabel(m.LastModified))
	if m.ForcedVoice != "" {
		fmt.Fprintf(out, "Voice:    %s\n", m.ForcedVoice)
	}
	if m.Progress != nil {
		fmt.Fprintf(out, "Progress: %s\n", progressLabel(m.Progress))
	}
	if m.CompleteAudioURL != "" {
		fmt.Fprintf(out, "Complete: %s%s\n", m.CompleteAudioURL, fileSize(m.CompleteAudioPath))
	}

	rows := make([][]string, 0, len(m.Sections))
	for i, s := range m.Sections {
		length := ""
		if n := len(s.Alignment); n > 0 {
			length = (time.Duration(s.Alignment[n-1].End()) * time.Millisecond).Round(time.Second).String()
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(s.Kind),
			strconv.Itoa(len(s.Spans)),
			length,
			s.AudioURL,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Kind", "Spans", "Length", "Audio"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func newSitemapCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "sitemap",
		Short: "Render the sitemap of narrated articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withCatalog(cmd.Context(), func(store *catalog.Store) error {
				ms, err := store.List(cmd.Context(), manuscript.StateDone)
				if err != nil {
					return err
				}
				data, err := manuscript.Sitemap(ms, manuscript.SitemapOptions{
					BaseURL:     cfg.Sitemap.BaseURL,
					ArticlePath: cfg.Sitemap.ArticlePath,
					ChangeFreq:  cfg.Sitemap.ChangeFreq,
				})
				if err != nil {
					return err
				}
				if output == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := storage.WriteFile(output, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d articles (%s) to %s\n", len(ms), humanize.Bytes(uint64(len(data))), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newCompleteAudioCommand(ctx *commandContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "complete-audio <id>",
		Short: "Ask the daemon for the joined narration of an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
			}
			id := manuscript.IDFromPath(args[0])
			link, err := fetchCompleteAudio(cmd, addr, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon base URL (default http://localhost:{http.port})")
	return cmd
}

var errNotReady = errors.New("manuscript is not done yet")

func fetchCompleteAudio(cmd *cobra.Command, addr, id string) (string, error) {
	endpoint := addr + "/api/complete_audio/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var link string
		if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return link, nil
	case http.StatusTooEarly:
		return "", fmt.Errorf("%s: %w", displayID(id), errNotReady)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}
}

type manuscriptSummary struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	State    string    `json:"state"`
	Progress *float64  `json:"progress,omitempty"`
	Sections int       `json:"sections"`
	LastMod  time.Time `json:"lastmod,omitzero"`
}

func summaries(ms []manuscript.Manuscript) []manuscriptSummary {
	out := make([]manuscriptSummary, 0, len(ms))
	for _, m := range ms {
		out = append(out, manuscriptSummary{
			ID:       m.ID,
			Title:    m.Title,
			State:    string(m.State),
			Progress: m.Progress,
			Sections: len(m.Sections),
			LastMod:  m.LastModified,
		})
	}
	return out
}

func progressLabel(p *float64) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%.0f%%", *p*100)
}

func lastModLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func fileSize(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil {
		return " (missing)"
	}
	return " (" + humanize.Bytes(uint64(info.Size())) + ")"
}

func statsLine(stats map[manuscript.State]int) string {
	states := make([]string, 0, len(stats))
	for s := range stats {
		states = append(states, string(s))
	}
	sort.Strings(states)
	line := ""
	for i, s := range states {
		if i > 0 {
			line += ", "
		}
		line += fmt.Sprintf("%s: %s", s, humanize.Comma(int64(stats[manuscript.State(s)])))
	}
	return line
}
