package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voting-ledger/models"
)

// FileProvider reads elections from a YAML (or JSON) file.
//
//	elections:
//	  - id: council-2026
//	    title: Student council
//	    start_date: 2026-10-01T00:00:00Z
//	    end_date: 2026-10-31
//	    positions:
//	      - id: president
//	        title: President
//	        candidates:
//	          - {id: c1, name: Ada}
//
// A date-only end_date covers the whole day: the election closes at the last
// instant of that day in UTC. An election may list flat `options` instead of
// positions; they are loaded as the single legacy position.
type FileProvider struct {
	Path string
}

type fileCatalog struct {
	Elections []fileElection `yaml:"elections"`
}

type fileElection struct {
	ID          string                `yaml:"id"`
	Title       string                `yaml:"title"`
	Description string                `yaml:"description"`
	SchoolID    string                `yaml:"school_id"`
	StartDate   string                `yaml:"start_date"`
	EndDate     string                `yaml:"end_date"`
	Positions   []models.Position     `yaml:"positions"`
	Options     []models.LegacyOption `yaml:"options"`
}

const dateOnly = "2006-01-02"

// parseDate accepts RFC 3339 timestamps and plain dates. A plain date
// resolves to its first instant, or its last one when endOfDay is set.
func parseDate(value string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", value)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func (p FileProvider) LoadElections(ctx context.Context) ([]models.Election, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", p.Path, err)
	}

	var file fileCatalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", p.Path, err)
	}

	elections := make([]models.Election, 0, len(file.Elections))
	for _, fe := range file.Elections {
		start, err := parseDate(fe.StartDate, false)
		if err != nil {
			return nil, fmt.Errorf("election %s: start_date: %w", fe.ID, err)
		}
		end, err := parseDate(fe.EndDate, true)
		if err != nil {
			return nil, fmt.Errorf("election %s: end_date: %w", fe.ID, err)
		}

		positions := fe.Positions
		if len(fe.Options) > 0 {
			positions = append(positions, models.LegacyPosition(fe.Options))
		}

		elections = append(elections, models.Election{
			ID:          fe.ID,
			Title:       fe.Title,
			Description: fe.Description,
			Positions:   positions,
			SchoolID:    fe.SchoolID,
			StartDate:   start,
			EndDate:     end,
		})
	}

	return elections, nil
}
