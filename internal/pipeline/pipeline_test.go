package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/repositories"
	"github.com/mkoziy/grants/syncer/internal/sources/grantsgov"
	"github.com/mkoziy/grants/syncer/internal/testutil"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// fakeSource serves an in-memory extract.
type fakeSource struct {
	name      string
	payload   string
	err       error
	downloads int
}

func (f *fakeSource) Resolve(_ context.Context, sourceURL string) (grantsgov.SourceFile, error) {
	if f.err != nil {
		return grantsgov.SourceFile{}, f.err
	}
	name := f.name
	if sourceURL != "" {
		name = sourceURL[strings.LastIndex(sourceURL, "/")+1:]
	}
	return grantsgov.SourceFile{
		Name:          name,
		URL:           "https://example.test/" + name,
		ExtractedDate: grantsgov.ParseExtractDate(name),
		Size:          -1,
	}, nil
}

func (f *fakeSource) Download(_ context.Context, src grantsgov.SourceFile) (*grantsgov.Extract, error) {
	f.downloads++
	src.Size = int64(len(f.payload))
	return &grantsgov.Extract{SourceFile: src, Data: []byte(f.payload)}, nil
}

// blockingSource holds Resolve until release is closed.
type blockingSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Resolve(ctx context.Context, sourceURL string) (grantsgov.SourceFile, error) {
	close(b.entered)
	<-b.release
	return b.fakeSource.Resolve(ctx, sourceURL)
}

func extract(records ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Grants>` + strings.Join(records, "") + `</Grants>`
}

func record(fields string) string {
	return "<OpportunitySynopsisDetail_1_0>" + fields + "</OpportunitySynopsisDetail_1_0>"
}

func newTestSyncer(t *testing.T, src Source, cfg Config) (*Syncer, *bun.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	s := New(cfg, Deps{DB: db, Source: src, Logger: testutil.DiscardLogger()})
	s.now = func() time.Time { return testNow }
	return s, db
}

func TestRunStoresEligibleOpportunity(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name: "GrantsDBExtract20260315v2.zip",
		payload: extract(record(
			`<OpportunityID>OPP-1</OpportunityID>
			<OpportunityTitle>Community Grant</OpportunityTitle>
			<AdditionalInformationOnEligibility>Open to nonprofit organizations</AdditionalInformationOnEligibility>`,
		)),
	}
	s, db := newTestSyncer(t, src, DefaultConfig())

	res, err := s.Run(ctx, Options{Trigger: models.TriggerManual})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.RecordsProcessed)
	require.Equal(t, 0, res.RecordsDeleted)
	require.Equal(t, "GrantsDBExtract20260315v2.zip", res.FileName)
	require.Equal(t, int64(len(src.payload)), res.FileSize)
	require.NotNil(t, res.ExtractedDate)

	count, err := repositories.CountOpportunities(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	opp, err := repositories.GetOpportunity(ctx, db, "OPP-1")
	require.NoError(t, err)
	require.Equal(t, "Community Grant", opp.Title)
	require.Nil(t, opp.CloseDate)

	run, err := s.Ledger().Get(ctx, res.RunID)
	require.NoError(t, err)
	require.Equal(t, models.SyncSuccess, run.Status)
	require.Equal(t, 1, run.RecordsProcessed)
	require.Equal(t, res.FileName, run.FileName)
	require.Equal(t, res.FileSize, run.FileSize)
}

func TestRunDeletesExpiredOpportunity(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name: "GrantsDBExtract20260315v2.zip",
		payload: extract(record(
			`<OpportunityID>OPP-OLD</OpportunityID>
			<OpportunityTitle>Expired Grant</OpportunityTitle>
			<EligibleApplicants>12</EligibleApplicants>
			<CloseDate>01012020</CloseDate>`,
		)),
	}
	s, db := newTestSyncer(t, src, DefaultConfig())

	closed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repositories.UpsertOpportunities(ctx, db, []*models.Opportunity{
		{OpportunityID: "OPP-OLD", Title: "Expired Grant", CloseDate: &closed},
	}))

	res, err := s.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.RecordsDeleted)
	require.Equal(t, 0, res.RecordsProcessed)
	require.Equal(t, 1, res.RecordsSkipped)

	_, err = repositories.GetOpportunity(ctx, db, "OPP-OLD")
	require.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestRunExcludesGovernmentOnly(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name: "GrantsDBExtract20260315v2.zip",
		payload: extract(record(
			`<OpportunityID>OPP-GOV</OpportunityID>
			<OpportunityTitle>State Capacity</OpportunityTitle>
			<AdditionalInformationOnEligibility>State and local government entities only</AdditionalInformationOnEligibility>
			<CloseDate>12312099</CloseDate>`,
		)),
	}
	s, db := newTestSyncer(t, src, DefaultConfig())

	res, err := s.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, res.RecordsProcessed)
	require.Equal(t, 1, res.RecordsSkipped)

	count, err := repositories.CountOpportunities(ctx, db)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRunInvalidXMLFailsWithoutTouchingStore(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name:    "GrantsDBExtract20260315v2.zip",
		payload: `<Grants><OpportunitySynopsisDetail_1_0><OpportunityID>OPP-1</OpportunityID>`,
	}
	s, db := newTestSyncer(t, src, DefaultConfig())

	// Would be pruned by a successful run.
	closed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repositories.UpsertOpportunities(ctx, db, []*models.Opportunity{
		{OpportunityID: "OPP-KEEP", Title: "Old", CloseDate: &closed},
	}))

	res, err := s.Run(ctx, Options{})
	var perr *grantsgov.ParseError
	require.ErrorAs(t, err, &perr)
	require.NotNil(t, res)
	require.False(t, res.Success)
	require.NotEmpty(t, res.ErrorMessage)

	run, err := s.Ledger().Get(ctx, res.RunID)
	require.NoError(t, err)
	require.Equal(t, models.SyncFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.Contains(t, *run.ErrorMessage, "parse grants extract")

	_, err = repositories.GetOpportunity(ctx, db, "OPP-KEEP")
	require.NoError(t, err)
}

func TestRunWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name: "GrantsDBExtract20260315v2.zip",
		payload: extract(record(
			`<OpportunityID>OPP-1</OpportunityID>
			<OpportunityTitle>Community Grant</OpportunityTitle>
			<EligibleApplicants>12</EligibleApplicants>`,
		)),
	}
	s, db := newTestSyncer(t, src, DefaultConfig())

	closed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repositories.UpsertOpportunities(ctx, db, []*models.Opportunity{
		{OpportunityID: "OPP-EXPIRED", Title: "Old", CloseDate: &closed},
	}))
	_, err := db.ExecContext(ctx, `CREATE TRIGGER reject_delete BEFORE DELETE ON grant_opportunities
		BEGIN SELECT RAISE(ABORT, 'delete rejected'); END`)
	require.NoError(t, err)

	res, err := s.Run(ctx, Options{})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, "delete expired", werr.Op)
	require.NotNil(t, res)
	require.False(t, res.Success)
	require.Zero(t, res.RecordsProcessed)

	run, err := s.Ledger().Get(ctx, res.RunID)
	require.NoError(t, err)
	require.Equal(t, models.SyncFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.Contains(t, *run.ErrorMessage, "delete rejected")

	// The upsert shared the failed transaction.
	_, err = repositories.GetOpportunity(ctx, db, "OPP-1")
	require.ErrorIs(t, err, repositories.ErrNotFound)
	_, err = repositories.GetOpportunity(ctx, db, "OPP-EXPIRED")
	require.NoError(t, err)
}

func TestRunFetchFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{err: &grantsgov.FetchError{URL: "https://example.test", StatusCode: http.StatusBadGateway, Body: "bad gateway"}}
	s, _ := newTestSyncer(t, src, DefaultConfig())

	res, err := s.Run(ctx, Options{})
	var ferr *grantsgov.FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, http.StatusBadGateway, ferr.StatusCode)
	require.False(t, res.Success)

	live, err := s.Ledger().Live(ctx)
	require.NoError(t, err)
	require.Nil(t, live)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name: "GrantsDBExtract20260315v2.zip",
		payload: extract(
			record(`<OpportunityID>OPP-1</OpportunityID><OpportunityTitle>A</OpportunityTitle><EligibleApplicants>12</EligibleApplicants><AwardCeiling>$10,000</AwardCeiling>`),
			record(`<OpportunityID>OPP-2</OpportunityID><OpportunityTitle>B</OpportunityTitle><EligibleApplicants>13</EligibleApplicants>`),
			record(`<OpportunityID>OPP-2</OpportunityID><OpportunityTitle>B revised</OpportunityTitle><EligibleApplicants>13</EligibleApplicants>`),
		),
	}
	s, db := newTestSyncer(t, src, DefaultConfig())

	first, err := s.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, first.RecordsProcessed)

	second, err := s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	require.False(t, second.Skipped)
	require.Equal(t, 2, second.RecordsProcessed)
	require.Equal(t, 0, second.RecordsDeleted)

	count, err := repositories.CountOpportunities(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	opp, err := repositories.GetOpportunity(ctx, db, "OPP-2")
	require.NoError(t, err)
	require.Equal(t, "B revised", opp.Title)

	opp, err = repositories.GetOpportunity(ctx, db, "OPP-1")
	require.NoError(t, err)
	require.NotNil(t, opp.AwardCeiling)
	require.Equal(t, int64(10000), *opp.AwardCeiling)
}

func TestRunSkipsUnchangedExtract(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name:    "GrantsDBExtract20260315v2.zip",
		payload: extract(record(`<OpportunityID>OPP-1</OpportunityID><OpportunityTitle>A</OpportunityTitle><EligibleApplicants>99</EligibleApplicants>`)),
	}
	s, _ := newTestSyncer(t, src, DefaultConfig())

	_, err := s.Run(ctx, Options{})
	require.NoError(t, err)

	res, err := s.Run(ctx, Options{Trigger: models.TriggerSchedule})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.Skipped)
	require.Zero(t, res.RecordsProcessed)
	require.Equal(t, 1, src.downloads)

	res, err = s.Run(ctx, Options{SourceURL: "https://example.test/GrantsDBExtract20260316v2.zip"})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 2, src.downloads)
}

func TestRunRejectedWhileLive(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{name: "GrantsDBExtract20260315v2.zip", payload: extract()}
	s, _ := newTestSyncer(t, src, DefaultConfig())

	h, err := s.Ledger().BeginRun(ctx, models.TriggerCLI)
	require.NoError(t, err)

	res, err := s.Run(ctx, Options{})
	require.Nil(t, res)
	require.ErrorIs(t, err, ledger.ErrAlreadyRunning)

	var running *ledger.AlreadyRunningError
	require.True(t, errors.As(err, &running))
	require.Equal(t, h.RunID(), running.RunID)
	require.Zero(t, src.downloads)
}

func TestPruneMissing(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name:    "GrantsDBExtract20260315v2.zip",
		payload: extract(record(`<OpportunityID>OPP-1</OpportunityID><OpportunityTitle>A</OpportunityTitle><EligibleApplicants>12</EligibleApplicants>`)),
	}
	cfg := DefaultConfig()
	cfg.PruneMissing = true
	s, db := newTestSyncer(t, src, cfg)

	require.NoError(t, repositories.UpsertOpportunities(ctx, db, []*models.Opportunity{
		{OpportunityID: "OPP-GONE", Title: "Withdrawn"},
	}))

	res, err := s.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.RecordsDeleted)

	_, err = repositories.GetOpportunity(ctx, db, "OPP-GONE")
	require.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestWriterKeepsUndatedOpportunities(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	w := NewWriter(db, 2, false, testutil.DiscardLogger())

	closed := testNow.AddDate(0, 0, -3)
	opps := []*models.Opportunity{
		{OpportunityID: "A", Title: "open"},
		{OpportunityID: "B", Title: "open"},
		{OpportunityID: "C", Title: "open"},
		{OpportunityID: "D", Title: "closed", CloseDate: &closed},
	}
	cutoff := testNow.Add(-24 * time.Hour)

	for i := 0; i < 3; i++ {
		stats, err := w.Write(ctx, opps, cutoff)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Deleted, "closed record is written then pruned each pass")
		if i == 0 {
			require.Equal(t, 4, stats.Created)
		}
	}

	count, err := repositories.CountOpportunities(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestStatusUsesCurrentTime(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSyncer(t, &fakeSource{}, DefaultConfig())

	closedThisMorning := testNow.Add(-6 * time.Hour)
	future := testNow.AddDate(0, 1, 0)
	require.NoError(t, repositories.UpsertOpportunities(ctx, db, []*models.Opportunity{
		{OpportunityID: "TODAY", Title: "closes today", CloseDate: &closedThisMorning},
		{OpportunityID: "LATER", Title: "closes later", CloseDate: &future},
		{OpportunityID: "OPEN", Title: "no deadline"},
	}))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, st.TotalOpportunities)
	require.Equal(t, 2, st.ActiveOpportunities)
	require.Nil(t, st.LastSuccess)
	require.Nil(t, st.Live)

	// The prune pass still keeps it until tomorrow.
	deleted, err := repositories.DeleteClosedBefore(ctx, db, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestWaitBlocksOnInFlightRun(t *testing.T) {
	ctx := context.Background()
	src := &blockingSource{
		fakeSource: fakeSource{
			name:    "GrantsDBExtract20260315v2.zip",
			payload: extract(record(`<OpportunityID>OPP-1</OpportunityID><OpportunityTitle>A</OpportunityTitle><EligibleApplicants>12</EligibleApplicants>`)),
		},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, _ := newTestSyncer(t, src, DefaultConfig())

	require.NoError(t, s.Wait(ctx), "nothing in flight")

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Run(ctx, Options{})
		done <- outcome{res, err}
	}()
	<-src.entered

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(short), context.DeadlineExceeded)

	close(src.release)
	require.NoError(t, s.Wait(ctx))

	out := <-done
	require.NoError(t, out.err)
	run, err := s.Ledger().Get(ctx, out.res.RunID)
	require.NoError(t, err)
	require.Equal(t, models.SyncSuccess, run.Status)
}
