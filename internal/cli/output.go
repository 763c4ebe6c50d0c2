package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
)

const maxDescriptionWidth = 48

// repoJSON is the machine-readable form of a stored repository.
type repoJSON struct {
	Key         int64  `json:"key"`
	RepoID      int64  `json:"repo_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	AvatarURL   string `json:"avatar_url"`
}

// printRepos writes repos as an aligned table or as indented JSON.
func printRepos(w io.Writer, repos []model.RepoRecord, format string) error {
	if format == "json" {
		return printReposJSON(w, repos)
	}

	if len(repos) == 0 {
		color.New(color.Faint).Fprintln(w, "no repositories stored")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tDESCRIPTION\tURL")
	for _, r := range repos {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Key, r.Name, truncate(r.Description, maxDescriptionWidth), r.URL)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write repositories: %w", err)
	}

	color.New(color.Bold).Fprintf(w, "\n%d repositories\n", len(repos))
	return nil
}

func printReposJSON(w io.Writer, repos []model.RepoRecord) error {
	out := make([]repoJSON, 0, len(repos))
	for _, r := range repos {
		out = append(out, repoJSON{
			Key:         r.Key,
			RepoID:      r.RepoID,
			Name:        r.Name,
			Description: r.Description,
			URL:         r.URL,
			AvatarURL:   r.AvatarURL,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode repositories: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// truncate shortens s to width runes, marking the cut with "...".
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width-3]) + "..."
}
