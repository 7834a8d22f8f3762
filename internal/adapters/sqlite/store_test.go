package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/keyledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
	"github.com/atvirokodosprendimai/keyledger/internal/core/usecase"
	"github.com/atvirokodosprendimai/keyledger/migrations"
)

type testDB struct {
	db  *gormsqlite.DB
	wdb *sql.DB
}

func openTestDB(t *testing.T) testDB {
	t.Helper()
	ctx := context.Background()

	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "keyledger.sqlite"), gormsqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	wdb, err := db.WriteSQLDB()
	require.NoError(t, err)
	require.NoError(t, migrations.Up(ctx, wdb))
	return testDB{db: db, wdb: wdb}
}

func newKeyService(db *gormsqlite.DB) *usecase.KeyService {
	return usecase.NewKeyService(
		NewStore(db),
		domain.MustCodeValidator(domain.DefaultKeyCodePattern),
		usecase.NewCustodyLedger(nil),
		usecase.KeyPolicy{},
		nil,
	)
}

var testMeta = domain.MutationMetadata{
	Actor:          "tester",
	Source:         "test",
	RequestID:      "req-1",
	CorrelationID:  "corr-1",
	CausationID:    "cause-1",
	IdempotencyKey: "idem-1",
}

func TestMigrationsAreIdempotent(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, migrations.Up(ctx, tdb.wdb))
	v, err := migrations.Version(ctx, tdb.wdb)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestKeyLifecycleAgainstSQLite(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	added, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "ACME", Name: "Main gate"}, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, added.Key.ID)

	_, err = svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "ACME"}, testMeta)
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = svc.GiveKey(ctx, usecase.GiveKeyRequest{Code: "K-001", Organization: "ACME", NewHolder: "user42", EvidenceRef: "sig/001.png"}, testMeta)
	require.NoError(t, err)
	_, err = svc.ReceiveKey(ctx, usecase.ReceiveKeyRequest{Code: "K-001", Organization: "ACME", Holder: "user42"}, testMeta)
	require.NoError(t, err)

	status, err := svc.GetKey(ctx, "K-001", "ACME")
	require.NoError(t, err)
	assert.Equal(t, "user42", status.Holder())
	assert.True(t, status.Custody.Settled())

	history, err := svc.KeyHistory(ctx, "K-001", "ACME")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.CustodyGive, history[0].Kind)
	assert.Equal(t, "sig/001.png", history[0].EvidenceRef)
	assert.Less(t, history[0].Sequence, history[1].Sequence)

	assert.ErrorIs(t, svc.RemoveKey(ctx, "K-001", "ACME", testMeta), domain.ErrHasOpenCustody)

	_, err = svc.ReturnKey(ctx, usecase.ReturnKeyRequest{Code: "K-001", Organization: "ACME"}, testMeta)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveKey(ctx, "K-001", "ACME", testMeta))

	_, err = svc.GetKey(ctx, "K-001", "ACME")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	assertTableCount(t, ctx, tdb.wdb, "keys", 0)
	assertTableCount(t, ctx, tdb.wdb, "custody_events", 3)
	// created, given, received, returned, removed
	assertTableCount(t, ctx, tdb.wdb, "audit_events", 5)
	assertTableCount(t, ctx, tdb.wdb, "outbox_events", 5)
}

func TestOutboxFailureRollsBackMutation(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	_, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "acme"}, testMeta)
	require.NoError(t, err)

	_, err = tdb.wdb.ExecContext(ctx, `
		CREATE TRIGGER trg_fail_outbox_insert
		BEFORE INSERT ON outbox_events
		BEGIN
			SELECT RAISE(ABORT, 'forced outbox failure');
		END;
	`)
	require.NoError(t, err)

	_, err = svc.GiveKey(ctx, usecase.GiveKeyRequest{Code: "K-001", Organization: "acme", NewHolder: "user42"}, testMeta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forced outbox failure")

	_, err = svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-002", Organization: "acme"}, testMeta)
	require.Error(t, err)

	assertTableCount(t, ctx, tdb.wdb, "keys", 1)
	assertTableCount(t, ctx, tdb.wdb, "custody_events", 0)
	assertTableCount(t, ctx, tdb.wdb, "audit_events", 1)
	assertTableCount(t, ctx, tdb.wdb, "outbox_events", 1)

	status, err := svc.GetKey(ctx, "K-001", "acme")
	require.NoError(t, err)
	assert.Equal(t, "", status.Holder())
}

func TestCustodyEventsAreAppendOnly(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	_, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "acme"}, testMeta)
	require.NoError(t, err)
	_, err = svc.GiveKey(ctx, usecase.GiveKeyRequest{Code: "K-001", Organization: "acme", NewHolder: "user42"}, testMeta)
	require.NoError(t, err)

	_, err = tdb.wdb.ExecContext(ctx, "UPDATE custody_events SET to_holder = 'mallory'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = tdb.wdb.ExecContext(ctx, "DELETE FROM custody_events")
	require.Error(t, err)

	assertTableCount(t, ctx, tdb.wdb, "custody_events", 1)
}

func TestConcurrentAddKeySingleWinner(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-777", Organization: "acme", Name: fmt.Sprintf("copy %d", i)}, testMeta)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateCode)
	}
	assert.Equal(t, 1, wins)
	assertTableCount(t, ctx, tdb.wdb, "keys", 1)
}

func TestConcurrentGivesKeepLedgerConsistent(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	_, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "acme"}, testMeta)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.GiveKey(ctx, usecase.GiveKeyRequest{Code: "K-001", Organization: "acme", NewHolder: fmt.Sprintf("user%d", i)}, testMeta)
		}(i)
	}
	wg.Wait()

	history, err := svc.KeyHistory(ctx, "K-001", "acme")
	require.NoError(t, err)
	require.NotEmpty(t, history)

	// every give starts where the previous one left the key
	prev := ""
	for _, ev := range history {
		assert.Equal(t, prev, ev.FromHolder)
		prev = ev.ToHolder
	}

	status, err := svc.GetKey(ctx, "K-001", "acme")
	require.NoError(t, err)
	assert.Equal(t, prev, status.Holder())
}

func TestKeyCardRepositoryUniquePerOrganization(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	store := NewStore(tdb.db)
	now := time.Now().UTC()

	err := store.Write(ctx, func(st ports.Stores) error {
		if _, err := st.KeyCards.CreateKeyCard(ctx, domain.KeyCard{ID: "c1", Organization: "acme", Code: "04A1B2C3", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		_, err := st.KeyCards.CreateKeyCard(ctx, domain.KeyCard{ID: "c2", Organization: "globex", Code: "04A1B2C3", CreatedAt: now, UpdatedAt: now})
		return err
	})
	require.NoError(t, err)

	err = store.Write(ctx, func(st ports.Stores) error {
		_, err := st.KeyCards.CreateKeyCard(ctx, domain.KeyCard{ID: "c3", Organization: "acme", Code: "04A1B2C3", CreatedAt: now, UpdatedAt: now})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateKeyCardCode)

	var cards []domain.KeyCard
	err = store.Read(ctx, func(st ports.Stores) error {
		var err error
		cards, err = st.KeyCards.ListKeyCards(ctx, "acme", domain.ListFilter{})
		return err
	})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "c1", cards[0].ID)
}

func TestReadTransactionsCannotWrite(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	store := NewStore(tdb.db)
	now := time.Now().UTC()

	err := store.Read(ctx, func(st ports.Stores) error {
		_, err := st.Keys.CreateKey(ctx, domain.Key{ID: "k1", Organization: "acme", Code: "K-001", CreatedAt: now, UpdatedAt: now})
		return err
	})
	require.Error(t, err)
	assertTableCount(t, ctx, tdb.wdb, "keys", 0)
}

func TestAuditTrailPagingAndOutbox(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	for _, code := range []string{"K-001", "K-002", "K-003"} {
		_, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: code, Organization: "acme"}, testMeta)
		require.NoError(t, err)
	}
	_, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "globex"}, testMeta)
	require.NoError(t, err)
	_, err = svc.UpdateKey(ctx, usecase.UpdateKeyRequest{Code: "K-001", Organization: "acme", Name: "Renamed"}, testMeta)
	require.NoError(t, err)

	audit := NewAuditTrailRepository(tdb.db)
	page, err := audit.List(ctx, domain.AuditFilter{Organization: "acme", Ascending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Less(t, page[0].ID, page[1].ID)

	rest, err := audit.List(ctx, domain.AuditFilter{Organization: "acme", Ascending: true, Cursor: page[1].ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	renamed := rest[1]
	assert.Equal(t, domain.EventKeyRenamed, renamed.Action)
	assert.Equal(t, int64(2), renamed.AggregateVersion)
	assert.Equal(t, "req-1", renamed.RequestID)

	var changed []string
	require.NoError(t, json.Unmarshal(renamed.ChangedJSON, &changed))
	assert.Contains(t, changed, "name")

	newest, err := audit.List(ctx, domain.AuditFilter{Organization: "acme", Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, renamed.ID, newest[0].ID)

	outbox := NewOutboxRepository(tdb.db)
	pending, err := outbox.FetchPending(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	assert.Equal(t, Topic("acme", domain.EventKeyCreated), pending[0].Topic)

	var env domain.EventEnvelope
	require.NoError(t, json.Unmarshal(pending[0].PayloadJSON, &env))
	assert.Equal(t, "acme", env.Organization)
	assert.Equal(t, domain.AggregateKey, env.AggregateType)

	require.NoError(t, outbox.MarkDispatched(ctx, pending[0].ID))
	require.NoError(t, outbox.MarkDead(ctx, pending[1].ID, 5, "gone"))
	next := time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	require.NoError(t, outbox.MarkFailed(ctx, pending[2].ID, 1, next, "retry later"))

	backlog, err := outbox.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backlog["dispatched"])
	assert.Equal(t, int64(1), backlog["dead"])
	assert.Equal(t, int64(3), backlog["pending"])

	due, err := outbox.FetchPending(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestRenameStampsUpdatedAtFromMetadata(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	svc := newKeyService(tdb.db)

	_, err := svc.AddKey(ctx, usecase.AddKeyRequest{Code: "K-001", Organization: "acme"}, testMeta)
	require.NoError(t, err)

	meta := testMeta
	meta.OccurredAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	_, err = svc.UpdateKey(ctx, usecase.UpdateKeyRequest{Code: "K-001", Organization: "acme", Name: "Renamed"}, meta)
	require.NoError(t, err)

	var key domain.Key
	err = NewStore(tdb.db).Read(ctx, func(st ports.Stores) error {
		var err error
		key, err = st.Keys.FindKey(ctx, "acme", "K-001")
		return err
	})
	require.NoError(t, err)
	assert.True(t, meta.OccurredAt.Equal(key.UpdatedAt), "updated_at %s", key.UpdatedAt)

	newest, err := NewAuditTrailRepository(tdb.db).List(ctx, domain.AuditFilter{Organization: "acme", Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, domain.EventKeyRenamed, newest[0].Action)
	assert.True(t, newest[0].OccurredAt.Equal(key.UpdatedAt))
}

func TestCustodyRepositoryRejectsUnknownKind(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := NewStore(tdb.db).Write(ctx, func(st ports.Stores) error {
		if _, err := st.Keys.CreateKey(ctx, domain.Key{ID: "k1", Organization: "acme", Code: "K-001", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		_, err := st.Custody.Append(ctx, domain.CustodyEvent{
			ID:           "e1",
			KeyID:        "k1",
			KeyCode:      "K-001",
			Organization: "acme",
			Kind:         domain.CustodyKind("lend"),
			ToHolder:     "user42",
			OccurredAt:   now,
		})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
	assertTableCount(t, ctx, tdb.wdb, "custody_events", 0)
	assertTableCount(t, ctx, tdb.wdb, "keys", 0)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: keys.organization, keys.code (2067)")))
	assert.False(t, isUniqueViolation(errors.New("database is locked")))
	assert.False(t, isUniqueViolation(nil))
}

func TestChangedFields(t *testing.T) {
	assert.Equal(t, []string{"holder", "pending"}, changedFields(`{"holder":"","pending":false,"code":"K-1"}`, `{"holder":"a","pending":true,"code":"K-1"}`))
	assert.Equal(t, []string{"code"}, changedFields(`{"code":"K-1"}`, ""))
	assert.Empty(t, changedFields("", ""))
}

func assertTableCount(t *testing.T, ctx context.Context, wdb *sql.DB, table string, want int) {
	t.Helper()
	var got int
	row := wdb.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table)
	if err := row.Scan(&got); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("unexpected %s count: got %d want %d", table, got, want)
	}
}

