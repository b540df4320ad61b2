package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/models"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func positions() []models.Position {
	return []models.Position{{
		ID:         "president",
		Title:      "President",
		Candidates: []models.Candidate{{ID: "c1", Name: "Ada"}, {ID: "c2", Name: "Grace"}},
	}}
}

func TestCreateFirstBecomesCurrent(t *testing.T) {
	c := New(fixedClock)
	assert.Nil(t, c.Current())

	e1, err := c.Create("e1", "First", "", positions(), testNow.Add(-time.Hour), testNow.Add(time.Hour), "")
	require.NoError(t, err)
	assert.True(t, e1.IsActive)

	_, err = c.Create("e2", "Second", "", positions(), testNow.Add(time.Hour), testNow.Add(2*time.Hour), "")
	require.NoError(t, err)

	assert.Equal(t, "e1", c.Current().ID)

	require.NoError(t, c.SetCurrent("e2"))
	assert.Equal(t, "e2", c.Current().ID)
	assert.False(t, c.Current().IsActive)

	err = c.SetCurrent("missing")
	assert.ErrorIs(t, err, ErrUnknownElection)
	assert.Equal(t, "e2", c.Current().ID)
}

func TestCreateValidation(t *testing.T) {
	c := New(fixedClock)

	_, err := c.Create("", "t", "", nil, testNow, testNow, "")
	assert.ErrorIs(t, err, ErrInvalidElection)

	_, err = c.Create("e1", "t", "", nil, testNow, testNow.Add(-time.Minute), "")
	assert.ErrorIs(t, err, ErrInvalidElection)
}

func TestValidateElectionPositions(t *testing.T) {
	candidates := []models.Candidate{{ID: "c1"}}

	tests := []struct {
		name      string
		positions []models.Position
		wantErr   bool
	}{
		{"valid", []models.Position{{ID: "chair", Candidates: candidates}, {ID: "treasurer", Candidates: candidates}}, false},
		{"legacy", []models.Position{models.LegacyPosition([]models.LegacyOption{{ID: "yes"}})}, false},
		{"separator in position id", []models.Position{{ID: "board:chair", Candidates: candidates}}, true},
		{"empty position id", []models.Position{{ID: "", Candidates: candidates}}, true},
		{"duplicate position id", []models.Position{{ID: "chair", Candidates: candidates}, {ID: "chair"}}, true},
		{"empty candidate id", []models.Position{{ID: "chair", Candidates: []models.Candidate{{Name: "Ada"}}}}, true},
		{"duplicate candidate id", []models.Position{{ID: "chair", Candidates: []models.Candidate{{ID: "c1"}, {ID: "c1"}}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateElection("e1", tt.positions, testNow, testNow)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidElection)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateRejectsSeparatorInPositionID(t *testing.T) {
	c := New(fixedClock)

	_, err := c.Create("e1", "Board", "", []models.Position{
		{ID: "board:chair", Candidates: []models.Candidate{{ID: "C1"}}},
		{ID: "board:treasurer", Candidates: []models.Candidate{{ID: "C2"}}},
	}, testNow, testNow, "")
	assert.ErrorIs(t, err, ErrInvalidElection)

	_, ok := c.Get("e1")
	assert.False(t, ok)
	assert.Nil(t, c.Current())
}

func TestAllKeepsCreationOrder(t *testing.T) {
	c := New(fixedClock)
	for _, id := range []string{"b", "a", "c"} {
		_, err := c.Create(id, id, "", nil, testNow, testNow, "")
		require.NoError(t, err)
	}
	// Replacing keeps the original slot.
	_, err := c.Create("b", "B2", "", nil, testNow, testNow, "")
	require.NoError(t, err)

	var ids []string
	for _, e := range c.All() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	b, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, "B2", b.Title)
}

func TestReturnedElectionsAreCopies(t *testing.T) {
	c := New(fixedClock)
	_, err := c.Create("e1", "t", "", positions(), testNow, testNow, "")
	require.NoError(t, err)

	got, _ := c.Get("e1")
	got.Positions[0].Candidates = nil

	again, _ := c.Get("e1")
	assert.Len(t, again.Positions[0].Candidates, 2)
}

type staticProvider struct {
	elections []models.Election
	err       error
}

func (p staticProvider) LoadElections(context.Context) ([]models.Election, error) {
	return p.elections, p.err
}

func TestReload(t *testing.T) {
	c := New(fixedClock)
	_, err := c.Create("old", "Old", "", nil, testNow, testNow, "")
	require.NoError(t, err)
	_, err = c.Create("keep", "Keep", "", nil, testNow, testNow, "")
	require.NoError(t, err)
	require.NoError(t, c.SetCurrent("keep"))

	provider := staticProvider{elections: []models.Election{
		{ID: "new", Title: "New", StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour)},
		{ID: "keep", Title: "Keep v2", StartDate: testNow.Add(time.Hour), EndDate: testNow.Add(2 * time.Hour), IsActive: true},
	}}
	require.NoError(t, c.Reload(context.Background(), provider))

	_, ok := c.Get("old")
	assert.False(t, ok)
	current := c.Current()
	require.NotNil(t, current)
	assert.Equal(t, "keep", current.ID)
	assert.Equal(t, "Keep v2", current.Title)
	assert.False(t, current.IsActive, "activity is recomputed on reload")

	// Current dropped: first loaded election takes over.
	require.NoError(t, c.Reload(context.Background(), staticProvider{elections: provider.elections[:1]}))
	assert.Equal(t, "new", c.Current().ID)
	assert.True(t, c.Current().IsActive)
}

func TestReloadFailureKeepsCatalog(t *testing.T) {
	c := New(fixedClock)
	_, err := c.Create("e1", "t", "", nil, testNow, testNow, "")
	require.NoError(t, err)

	err = c.Reload(context.Background(), staticProvider{err: errors.New("db down")})
	require.Error(t, err)
	assert.Equal(t, "e1", c.Current().ID)

	err = c.Reload(context.Background(), staticProvider{elections: []models.Election{{ID: "x"}, {ID: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidElection)
	assert.Equal(t, "e1", c.Current().ID)
}

func TestReloadValidatesRecords(t *testing.T) {
	tests := []struct {
		name     string
		election models.Election
	}{
		{"missing id", models.Election{StartDate: testNow, EndDate: testNow}},
		{"end before start", models.Election{ID: "x", StartDate: testNow, EndDate: testNow.Add(-time.Hour)}},
		{"separator in position id", models.Election{ID: "x", StartDate: testNow, EndDate: testNow, Positions: []models.Position{{ID: "a:b"}}}},
		{"duplicate position id", models.Election{ID: "x", StartDate: testNow, EndDate: testNow, Positions: []models.Position{{ID: "p"}, {ID: "p"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(fixedClock)
			_, err := c.Create("e1", "t", "", positions(), testNow, testNow, "")
			require.NoError(t, err)

			valid := models.Election{ID: "ok", StartDate: testNow, EndDate: testNow}
			err = c.Reload(context.Background(), staticProvider{elections: []models.Election{valid, tt.election}})
			assert.ErrorIs(t, err, ErrInvalidElection)

			assert.Len(t, c.All(), 1)
			assert.Equal(t, "e1", c.Current().ID)
		})
	}
}

const catalogYAML = `
elections:
  - id: council-2026
    title: Student council
    school_id: s1
    start_date: "2026-10-01T00:00:00Z"
    end_date: "2026-10-31"
    positions:
      - id: president
        title: President
        candidates:
          - {id: c1, name: Ada}
          - {id: c2, name: Grace}
  - id: referendum
    title: Referendum
    start_date: "2026-01-01"
    end_date: "2026-02-01"
    options:
      - {id: "yes", label: "Yes"}
      - {id: "no", label: "No"}
`

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0644))

	c := New(fixedClock)
	require.NoError(t, c.Reload(context.Background(), FileProvider{Path: path}))

	council, ok := c.Get("council-2026")
	require.True(t, ok)
	assert.True(t, council.IsActive)
	assert.Equal(t, "s1", council.SchoolID)
	p, ok := council.Position("president")
	require.True(t, ok)
	assert.Len(t, p.Candidates, 2)

	referendum, ok := c.Get("referendum")
	require.True(t, ok)
	assert.False(t, referendum.IsActive)
	legacy, ok := referendum.Position(models.LegacyPositionID)
	require.True(t, ok)
	yes, ok := legacy.Candidate("yes")
	require.True(t, ok)
	assert.Equal(t, "Yes", yes.Name)
}

func TestFileProviderDateOnlyEndCoversWholeDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "elections:\n  - id: october\n    start_date: \"2026-10-01\"\n    end_date: \"2026-10-31\"\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	noonOnLastDay := time.Date(2026, 10, 31, 12, 0, 0, 0, time.UTC)
	c := New(func() time.Time { return noonOnLastDay })
	require.NoError(t, c.Reload(context.Background(), FileProvider{Path: path}))

	e, ok := c.Get("october")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), e.StartDate)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), e.EndDate)
	assert.True(t, e.IsActive)
	assert.Equal(t, models.StatusActive, e.StatusAt(noonOnLastDay))
	assert.Equal(t, models.StatusClosed, e.StatusAt(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFileProviderErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := FileProvider{Path: filepath.Join(dir, "missing.yaml")}.LoadElections(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("elections:\n  - id: e\n    start_date: \"soon\"\n    end_date: \"2026-01-01\"\n"), 0644))
	_, err = FileProvider{Path: bad}.LoadElections(context.Background())
	assert.ErrorContains(t, err, "start_date")
}
