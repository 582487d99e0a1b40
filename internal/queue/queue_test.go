package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

const genID = "7b0f6a52-3d56-4c1e-9f0e-2d7f1f0b9a11"

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubSQL answers QueryRow from a per-query script; each call pops one row.
type stubSQL struct {
	mu      sync.Mutex
	rows    map[string][]stubRow
	sets    map[string]*stubRows
	queries []string
	args    [][]any
}

func (s *stubSQL) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	script := s.rows[query]
	if len(script) == 0 {
		return stubRow{}
	}
	s.rows[query] = script[1:]
	return script[0]
}

func (s *stubSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	rows, ok := s.sets[query]
	if !ok {
		return nil, errors.New("unexpected query")
	}
	return rows, nil
}

// stubRows yields fixed string tuples.
type stubRows struct {
	data [][]string
	pos  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i := range dest {
		*dest[i].(*string) = row[i]
	}
	return nil
}

func claimedRow(id string) stubRow {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	return stubRow{scan: func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "person-1"
		*dest[2].(*string) = "user-1"
		*dest[3].(*string) = ""
		*dest[4].(*string) = "running"
		*dest[5].(*string) = "individual"
		*dest[6].(*int) = 1
		*dest[7].(*[]byte) = []byte(`["selfies/person-1/a.jpg"]`)
		*dest[8].(*[]byte) = []byte(`{"shotType":"headshot"}`)
		*dest[9].(*string) = ""
		*dest[10].(*string) = "v2"
		*dest[11].(*int) = 0
		*dest[12].(*string) = "claimed"
		*dest[13].(*string) = ""
		*dest[14].(*string) = ""
		*dest[15].(*[]byte) = []byte(`[]`)
		*dest[16].(*bool) = false
		*dest[17].(*string) = ""
		*dest[18].(*time.Time) = now
		*dest[19].(*time.Time) = now
		return nil
	}}
}

func insertedRow(id string) stubRow {
	return stubRow{scan: func(dest ...any) error {
		*dest[0].(*string) = id
		return nil
	}}
}

func validJob() Job {
	return Job{
		GenerationID:  genID,
		PersonID:      "person-1",
		UserID:        "user-1",
		SelfieKeys:    []string{"selfies/person-1/a.jpg"},
		StyleSettings: domain.StyleSettings{ShotType: "headshot"},
		Credits:       1,
	}
}

func TestDecodeJobDefaultsCreditSource(t *testing.T) {
	raw := `{"generationId":"` + genID + `","personId":"person-1","selfieS3Keys":[" a.jpg ",""],"styleSettings":{"presetId":"corporate"},"credits":2}`
	job, err := DecodeJob([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if job.CreditSource != domain.CreditSourceIndividual {
		t.Fatalf("credit source = %q", job.CreditSource)
	}
	if len(job.SelfieKeys) != 1 || job.SelfieKeys[0] != "a.jpg" {
		t.Fatalf("selfie keys = %#v", job.SelfieKeys)
	}
	g := job.Generation()
	if g.Status != domain.GenerationStatusQueued || g.CreditCost != 2 || g.Style.PresetID != "corporate" {
		t.Fatalf("unexpected generation %#v", g)
	}
}

func TestValidateRejectsBadJobs(t *testing.T) {
	cases := map[string]func(j *Job){
		"bad id":         func(j *Job) { j.GenerationID = "gen-1" },
		"no person":      func(j *Job) { j.PersonID = " " },
		"no selfies":     func(j *Job) { j.SelfieKeys = nil },
		"negative":       func(j *Job) { j.Credits = -1 },
		"team no id":     func(j *Job) { j.CreditSource = domain.CreditSourceTeam },
		"unknown source": func(j *Job) { j.CreditSource = "company" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			j := validJob()
			mutate(&j)
			if err := j.Validate(); !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestRecordsInsertReportsExisting(t *testing.T) {
	sql := &stubSQL{rows: map[string][]stubRow{
		sqlinline.QInsertGeneration: {insertedRow(genID)},
	}}
	records := NewRecords(sql)
	created, err := records.Insert(context.Background(), validJob())
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = records.Insert(context.Background(), validJob())
	if err != nil || created {
		t.Fatalf("second insert: created=%v err=%v", created, err)
	}
	args := sql.args[0]
	if args[0] != genID || args[4] != "individual" || args[9] != DefaultWorkflowVersion {
		t.Fatalf("unexpected insert args %#v", args)
	}
	if !strings.Contains(string(args[6].([]byte)), "a.jpg") {
		t.Fatalf("selfie keys not encoded: %s", args[6])
	}
}

func TestPostgresSourcePollsUntilClaim(t *testing.T) {
	sql := &stubSQL{rows: map[string][]stubRow{
		sqlinline.QClaimNextGeneration: {{}, {}, claimedRow(genID)},
	}}
	src := NewPostgresSource(NewRecords(sql), time.Millisecond, nil)

	d, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d.Generation.ID != genID || d.Generation.Status != domain.GenerationStatusRunning {
		t.Fatalf("unexpected delivery %#v", d.Generation)
	}
	if len(sql.queries) != 3 {
		t.Fatalf("expected 3 claim attempts, got %d", len(sql.queries))
	}
	if err := d.Ack(context.Background()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestPostgresSourceStopsOnCancel(t *testing.T) {
	src := NewPostgresSource(NewRecords(&stubSQL{rows: map[string][]stubRow{}}), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeClaims struct {
	inserted  []string
	claimable map[string]bool
	// orphans is popped once per ClaimOrphan call; "" means none.
	orphans      []string
	orphanChecks int
}

func (f *fakeClaims) ClaimOrphan(_ context.Context, olderThan time.Duration) (*domain.Generation, error) {
	f.orphanChecks++
	if len(f.orphans) == 0 {
		return nil, domain.ErrNotFound
	}
	id := f.orphans[0]
	f.orphans = f.orphans[1:]
	if id == "" {
		return nil, domain.ErrNotFound
	}
	g := validJob().Generation()
	g.ID = id
	g.Status = domain.GenerationStatusRunning
	return &g, nil
}

func (f *fakeClaims) Insert(_ context.Context, job Job) (bool, error) {
	f.inserted = append(f.inserted, job.GenerationID)
	return true, nil
}

func (f *fakeClaims) ClaimByID(_ context.Context, id string) (*domain.Generation, error) {
	if !f.claimable[id] {
		return nil, domain.ErrNotFound
	}
	g := validJob().Generation()
	g.ID = id
	g.Status = domain.GenerationStatusRunning
	return &g, nil
}

func jobMessage(t *testing.T, offset int64, job Job) kafka.Message {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Offset: offset, Value: body}
}

func TestKafkaSourceSkipsMalformedAndUnclaimable(t *testing.T) {
	done := validJob()
	done.GenerationID = "0f3c1b7e-9a7d-4d53-8c2a-6b5a3c1e2f44"
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{not json`)},
		jobMessage(t, 2, done),
		jobMessage(t, 3, validJob()),
	}}
	claims := &fakeClaims{claimable: map[string]bool{genID: true}}
	src := &KafkaSource{reader: reader, records: claims, logger: infra.OrNop(nil)}

	d, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d.Generation.ID != genID {
		t.Fatalf("unexpected generation %q", d.Generation.ID)
	}
	if len(reader.committed) != 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Fatalf("expected offsets 1 and 2 committed before ack, got %v", reader.committed)
	}
	if len(claims.inserted) != 2 {
		t.Fatalf("expected both valid jobs recorded, got %v", claims.inserted)
	}
	if err := d.Ack(context.Background()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if reader.committed[len(reader.committed)-1] != 3 {
		t.Fatalf("ack did not commit offset 3: %v", reader.committed)
	}
}

func TestKafkaSourceCommitsInFetchOrder(t *testing.T) {
	second := validJob()
	second.GenerationID = "5d1e2c3b-4a5f-4b6c-8d7e-9f0a1b2c3d4e"
	reader := &fakeReader{msgs: []kafka.Message{
		jobMessage(t, 5, validJob()),
		jobMessage(t, 6, second),
	}}
	claims := &fakeClaims{claimable: map[string]bool{genID: true, second.GenerationID: true}}
	src := &KafkaSource{reader: reader, records: claims, logger: infra.OrNop(nil)}

	first, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next first: %v", err)
	}
	later, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next second: %v", err)
	}

	if err := later.Ack(context.Background()); err != nil {
		t.Fatalf("Ack later: %v", err)
	}
	if len(reader.committed) != 0 {
		t.Fatalf("offset 6 committed while offset 5 is in flight: %v", reader.committed)
	}

	if err := first.Ack(context.Background()); err != nil {
		t.Fatalf("Ack first: %v", err)
	}
	if len(reader.committed) != 1 || reader.committed[0] != 6 {
		t.Fatalf("expected a single commit of offset 6, got %v", reader.committed)
	}
}

func TestKafkaSourceKeepsPartitionsIndependent(t *testing.T) {
	second := validJob()
	second.GenerationID = "5d1e2c3b-4a5f-4b6c-8d7e-9f0a1b2c3d4e"
	a := jobMessage(t, 10, validJob())
	b := jobMessage(t, 3, second)
	b.Partition = 1
	reader := &fakeReader{msgs: []kafka.Message{a, b}}
	claims := &fakeClaims{claimable: map[string]bool{genID: true, second.GenerationID: true}}
	src := &KafkaSource{reader: reader, records: claims, logger: infra.OrNop(nil)}

	if _, err := src.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	other, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := other.Ack(context.Background()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(reader.committed) != 1 || reader.committed[0] != 3 {
		t.Fatalf("expected partition 1 offset 3 committed, got %v", reader.committed)
	}
}

func TestKafkaSourceClaimsOrphanedGenerations(t *testing.T) {
	const orphanID = "c0ffee00-1111-4222-8333-444455556666"
	reader := &fakeReader{}
	claims := &fakeClaims{orphans: []string{"", orphanID}}
	src := &KafkaSource{
		reader:      reader,
		records:     claims,
		logger:      infra.OrNop(nil),
		orphanAfter: 15 * time.Minute,
		poll:        5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d.Generation.ID != orphanID {
		t.Fatalf("unexpected generation %q", d.Generation.ID)
	}
	if claims.orphanChecks != 2 {
		t.Fatalf("expected an idle fetch between orphan checks, got %d checks", claims.orphanChecks)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(reader.committed) != 0 {
		t.Fatalf("orphan ack must not commit offsets: %v", reader.committed)
	}
}

func TestRecordsReclaimStaleSplitsRequeuedAndCancelled(t *testing.T) {
	sql := &stubSQL{sets: map[string]*stubRows{
		sqlinline.QReclaimStaleGenerations: {data: [][]string{
			{"gen-a", "queued"},
			{"gen-b", "cancelled"},
			{"gen-c", "queued"},
		}},
	}}
	res, err := NewRecords(sql).ReclaimStale(context.Background(), 15*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if len(res.Requeued) != 2 || res.Requeued[0] != "gen-a" || res.Requeued[1] != "gen-c" {
		t.Fatalf("requeued = %v", res.Requeued)
	}
	if len(res.Cancelled) != 1 || res.Cancelled[0] != "gen-b" {
		t.Fatalf("cancelled = %v", res.Cancelled)
	}
	if secs, ok := sql.args[0][0].(float64); !ok || secs != 900 {
		t.Fatalf("stale threshold arg = %#v", sql.args[0][0])
	}
}

func TestRecordsClaimOrphanMapsNoRows(t *testing.T) {
	sql := &stubSQL{rows: map[string][]stubRow{
		sqlinline.QClaimOrphanedGeneration: {claimedRow(genID)},
	}}
	records := NewRecords(sql)
	g, err := records.ClaimOrphan(context.Background(), time.Minute)
	if err != nil || g.ID != genID {
		t.Fatalf("ClaimOrphan: g=%v err=%v", g, err)
	}
	if _, err := records.ClaimOrphan(context.Background(), time.Minute); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherRecordsThenWrites(t *testing.T) {
	sql := &stubSQL{rows: map[string][]stubRow{
		sqlinline.QInsertGeneration: {insertedRow(genID)},
	}}
	writer := &fakeWriter{}
	pub := NewKafkaPublisher(writer, NewRecords(sql))

	created, err := pub.Publish(context.Background(), validJob())
	if err != nil || !created {
		t.Fatalf("Publish: created=%v err=%v", created, err)
	}
	if len(writer.msgs) != 1 || string(writer.msgs[0].Key) != genID {
		t.Fatalf("unexpected messages %#v", writer.msgs)
	}
	job, err := DecodeJob(writer.msgs[0].Value)
	if err != nil {
		t.Fatalf("published body does not decode: %v", err)
	}
	if job.PersonID != "person-1" || job.Credits != 1 {
		t.Fatalf("unexpected job %#v", job)
	}

	bad := validJob()
	bad.SelfieKeys = nil
	if _, err := pub.Publish(context.Background(), bad); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("invalid job must not be written")
	}
}
