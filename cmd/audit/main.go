// Command audit loads a stored chain offline, validates it and prints a
// summary with vote tallies.
//
//	audit [-archive] [-tally=false] [-- server flags]
//
// Storage is located through the same configuration as the server; flags
// after "--" are passed to it.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"voting-ledger/blockchain/ledger"
	"voting-ledger/config"
	"voting-ledger/models"
	"voting-ledger/storage"
	"voting-ledger/storage/db"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type report struct {
	Source   string
	Blocks   int
	Head     string
	Err      error
	Votes    int
	Voters   int
	Rewards  int64
	Tallies  map[string]int
	ShowKeys bool
}

func main() {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	fromArchive := fs.Bool("archive", false, "Audit the latest snapshot instead of the live store")
	tally := fs.Bool("tally", true, "Print per-key vote tallies")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	source, blocks, err := loadChain(cfg, *fromArchive)
	if err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("load failed: "+err.Error()))
		os.Exit(1)
	}

	r := buildReport(source, blocks)
	r.ShowKeys = *tally
	fmt.Println(render(r))

	if r.Err != nil {
		os.Exit(1)
	}
}

func loadChain(cfg config.Config, fromArchive bool) (string, []*models.Block, error) {
	if fromArchive {
		archive, err := storage.NewArchive(filepath.Join(cfg.StorageDir, "snapshots"), cfg.KeepSnapshots)
		if err != nil {
			return "", nil, err
		}
		blocks, err := archive.Latest()
		return "archive " + filepath.Join(cfg.StorageDir, "snapshots"), blocks, err
	}

	var store storage.BlockStore
	switch cfg.Backend {
	case config.BackendJSON:
		s, err := storage.NewJSONStore(cfg.StorageDir)
		if err != nil {
			return "", nil, err
		}
		store = s
	case config.BackendPebble:
		s, err := storage.NewPebbleStore(filepath.Join(cfg.StorageDir, "pebble"))
		if err != nil {
			return "", nil, err
		}
		store = s
	case config.BackendPostgres:
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return "", nil, err
		}
		if conn == nil {
			return "", nil, fmt.Errorf("postgres backend needs a database url")
		}
		store = db.NewStore(conn)
	default:
		return "", nil, fmt.Errorf("backend %q has nothing to audit", cfg.Backend)
	}
	defer store.Close()

	blocks, err := store.LoadChain()
	return cfg.Backend + " store", blocks, err
}

func buildReport(source string, blocks []*models.Block) report {
	r := report{
		Source:  source,
		Blocks:  len(blocks),
		Err:     ledger.ValidateChain(blocks),
		Tallies: make(map[string]int),
	}
	if len(blocks) > 0 {
		r.Head = blocks[len(blocks)-1].Hash
	}

	voters := make(map[string]struct{})
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if tx.IsSystem() {
				var amount int64
				if _, err := fmt.Sscanf(tx.VoteKey, "Mining reward: %d", &amount); err == nil {
					r.Rewards += amount
				}
				continue
			}
			r.Votes++
			voters[tx.VoterID] = struct{}{}
			r.Tallies[models.CanonicalVoteKey(tx.VoteKey)]++
		}
	}
	r.Voters = len(voters)

	return r
}

func render(r report) string {
	status := okStyle.Render("VALID")
	if r.Err != nil {
		status = failStyle.Render("INVALID")
	}

	head := r.Head
	if len(head) > 16 {
		head = head[:16] + "..."
	}

	lines := []string{
		row("source", r.Source),
		row("status", status),
		row("blocks", fmt.Sprint(r.Blocks)),
		row("head", head),
		row("votes", fmt.Sprint(r.Votes)),
		row("voters", fmt.Sprint(r.Voters)),
		row("rewards", fmt.Sprint(r.Rewards)),
	}
	if r.Err != nil {
		lines = append(lines, row("error", failStyle.Render(r.Err.Error())))
	}

	sections := []string{
		titleStyle.Render("Chain audit"),
		boxStyle.Render(strings.Join(lines, "\n")),
	}

	if r.ShowKeys && len(r.Tallies) > 0 {
		keys := make([]string, 0, len(r.Tallies))
		for key := range r.Tallies {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		width := 0
		for _, key := range keys {
			width = max(width, len(key))
		}
		tally := make([]string, len(keys))
		for i, key := range keys {
			tally[i] = paddedRow(key, fmt.Sprint(r.Tallies[key]), width)
		}
		sections = append(sections, titleStyle.Render("Tallies"), boxStyle.Render(strings.Join(tally, "\n")))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func row(label, value string) string {
	return paddedRow(label, value, 10)
}

func paddedRow(label, value string, width int) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(fmt.Sprintf("%-*s", width+2, label)), value)
}
