package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// memDB is an in-memory stand-in for Postgres. Transactions are serialized
// and roll back by restoring a snapshot.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users       map[string]bool
	accounts    map[string]models.Account
	entries     []models.LedgerEntry
	seq         int64
	tasks       map[string]models.Task
	proposals   map[string]models.Proposal
	intents     map[string]models.PaymentIntent
	withdrawals map[string]models.Withdrawal
	audits      []string

	commitErr error
	// poolReads counts account lookups made without a transaction handle.
	poolReads int
}

type memSnapshot struct {
	users       map[string]bool
	accounts    map[string]models.Account
	entries     []models.LedgerEntry
	seq         int64
	tasks       map[string]models.Task
	proposals   map[string]models.Proposal
	intents     map[string]models.PaymentIntent
	withdrawals map[string]models.Withdrawal
	audits      []string
}

func newMemDB() *memDB {
	return &memDB{
		users:       map[string]bool{},
		accounts:    map[string]models.Account{},
		tasks:       map[string]models.Task{},
		proposals:   map[string]models.Proposal{},
		intents:     map[string]models.PaymentIntent{},
		withdrawals: map[string]models.Withdrawal{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		users:       copyMap(m.users),
		accounts:    copyMap(m.accounts),
		entries:     append([]models.LedgerEntry(nil), m.entries...),
		seq:         m.seq,
		tasks:       copyMap(m.tasks),
		proposals:   copyMap(m.proposals),
		intents:     copyMap(m.intents),
		withdrawals: copyMap(m.withdrawals),
		audits:      append([]string(nil), m.audits...),
	}
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = s.users
	m.accounts = s.accounts
	m.entries = s.entries
	m.seq = s.seq
	m.tasks = s.tasks
	m.proposals = s.proposals
	m.intents = s.intents
	m.withdrawals = s.withdrawals
	m.audits = s.audits
}

type memTxRunner struct {
	db *memDB
}

func (r memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.db.txMu.Lock()
	defer r.db.txMu.Unlock()
	snap := r.db.snapshot()
	err := fn(nil)
	if err == nil {
		err = r.db.commitErr
	}
	if err != nil {
		r.db.restore(snap)
		return err
	}
	return nil
}

type memAccounts struct{ db *memDB }

func (s memAccounts) Create(_ context.Context, _ store.Execer, id string, userID *string, isSystem bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.accounts[id]; ok {
		return store.ErrConflict
	}
	if userID != nil {
		for _, acc := range s.db.accounts {
			if acc.UserID != nil && *acc.UserID == *userID {
				return store.ErrConflict
			}
		}
	}
	s.db.accounts[id] = models.Account{ID: id, UserID: userID, IsSystem: isSystem, CreatedAt: time.Now()}
	return nil
}

func (s memAccounts) GetByID(_ context.Context, id string) (models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	acc, ok := s.db.accounts[id]
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	return acc, nil
}

func (s memAccounts) GetByUserID(_ context.Context, q store.Getter, userID string) (models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if q == nil {
		s.db.poolReads++
	}
	for _, acc := range s.db.accounts {
		if acc.UserID != nil && *acc.UserID == userID {
			return acc, nil
		}
	}
	return models.Account{}, store.ErrNotFound
}

func (s memAccounts) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Account, error) {
	return s.GetByID(ctx, id)
}

func (s memAccounts) Credit(_ context.Context, _ store.Getter, id string, amount int64) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	acc, ok := s.db.accounts[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	acc.Balance += amount
	s.db.accounts[id] = acc
	return acc.Balance, nil
}

func (s memAccounts) Debit(_ context.Context, _ store.Getter, id string, amount int64) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	acc, ok := s.db.accounts[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	if acc.Balance < amount {
		return 0, store.ErrInsufficientBalance
	}
	acc.Balance -= amount
	s.db.accounts[id] = acc
	return acc.Balance, nil
}

func (s memAccounts) GetSystemAccount(_ context.Context, q store.Getter) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if q == nil {
		s.db.poolReads++
	}
	for _, acc := range s.db.accounts {
		if acc.IsSystem {
			return acc.ID, nil
		}
	}
	return "", store.ErrNotFound
}

func (s memAccounts) ListIDs(context.Context) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	ids := make([]string, 0, len(s.db.accounts))
	for id := range s.db.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memLedger struct{ db *memDB }

func (s memLedger) Append(_ context.Context, _ store.Getter, entry models.LedgerEntry) (models.LedgerEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.entries {
		if e.ReferenceID == entry.ReferenceID && e.Kind == entry.Kind && e.AccountID == entry.AccountID {
			return models.LedgerEntry{}, store.ErrConflict
		}
	}
	s.db.seq++
	entry.Seq = s.db.seq
	entry.CreatedAt = time.Now()
	s.db.entries = append(s.db.entries, entry)
	return entry, nil
}

func (s memLedger) LatestBalance(_ context.Context, accountID string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.accounts[accountID]; !ok {
		return 0, store.ErrNotFound
	}
	for i := len(s.db.entries) - 1; i >= 0; i-- {
		if s.db.entries[i].AccountID == accountID {
			return s.db.entries[i].BalanceAfter, nil
		}
	}
	return 0, nil
}

func (s memLedger) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	all, _ := s.History(ctx, nil, accountID)
	out := make([]models.LedgerEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memLedger) History(_ context.Context, _ store.Selecter, accountID string) ([]models.LedgerEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.db.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s memLedger) ListByReference(_ context.Context, referenceID string) ([]models.LedgerEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.db.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memTasks struct{ db *memDB }

func (s memTasks) Create(_ context.Context, _ store.Execer, task models.Task) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.tasks[task.ID]; ok {
		return store.ErrConflict
	}
	s.db.tasks[task.ID] = task
	return nil
}

func (s memTasks) GetByID(_ context.Context, id string) (models.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	task, ok := s.db.tasks[id]
	if !ok {
		return models.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (s memTasks) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Task, error) {
	return s.GetByID(ctx, id)
}

func (s memTasks) Transition(_ context.Context, _ store.Execer, t store.TaskTransition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	task, ok := s.db.tasks[t.TaskID]
	if !ok || task.Status != t.From {
		return store.ErrStaleStatus
	}
	task.Status = t.To
	if t.FreelancerID != nil {
		task.FreelancerID = t.FreelancerID
	}
	if t.AssignedAt != nil {
		task.AssignedAt = t.AssignedAt
	}
	if t.CompletedAt != nil {
		task.CompletedAt = t.CompletedAt
	}
	s.db.tasks[t.TaskID] = task
	return nil
}

func (s memTasks) DeleteDraft(_ context.Context, _ store.Execer, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	task, ok := s.db.tasks[id]
	if !ok || task.Status != models.TaskDraft {
		return store.ErrStaleStatus
	}
	delete(s.db.tasks, id)
	return nil
}

func (s memTasks) Update(_ context.Context, _ store.Execer, task models.Task) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	current, ok := s.db.tasks[task.ID]
	if !ok || current.Status != task.Status {
		return store.ErrStaleStatus
	}
	s.db.tasks[task.ID] = task
	return nil
}

func (s memTasks) ListByClient(_ context.Context, clientID string, limit, offset int) ([]models.Task, error) {
	return s.list(func(t models.Task) bool { return t.ClientID == clientID }, limit, offset), nil
}

func (s memTasks) ListByFreelancer(_ context.Context, freelancerID string, limit, offset int) ([]models.Task, error) {
	return s.list(func(t models.Task) bool { return t.FreelancerID != nil && *t.FreelancerID == freelancerID }, limit, offset), nil
}

func (s memTasks) list(match func(models.Task) bool, limit, offset int) []models.Task {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.Task{}
	for _, t := range s.db.tasks {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []models.Task{}
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memProposals struct{ db *memDB }

func (s memProposals) Create(_ context.Context, _ store.Execer, p models.Proposal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.proposals {
		if existing.TaskID == p.TaskID && existing.FreelancerID == p.FreelancerID && existing.Status == models.ProposalPending {
			return store.ErrConflict
		}
	}
	s.db.proposals[p.ID] = p
	return nil
}

func (s memProposals) GetForUpdate(_ context.Context, _ store.Getter, id string) (models.Proposal, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.proposals[id]
	if !ok {
		return models.Proposal{}, store.ErrNotFound
	}
	return p, nil
}

func (s memProposals) HasPending(_ context.Context, _ store.Getter, taskID, freelancerID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.proposals {
		if p.TaskID == taskID && p.FreelancerID == freelancerID && p.Status == models.ProposalPending {
			return true, nil
		}
	}
	return false, nil
}

func (s memProposals) ListByTask(_ context.Context, taskID string) ([]models.Proposal, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Proposal
	for _, p := range s.db.proposals {
		if p.TaskID == taskID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (s memProposals) MarkAccepted(_ context.Context, _ store.Execer, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.proposals[id]
	if !ok || p.Status != models.ProposalPending {
		return store.ErrStaleStatus
	}
	for _, other := range s.db.proposals {
		if other.TaskID == p.TaskID && other.Status == models.ProposalAccepted {
			return store.ErrConflict
		}
	}
	p.Status = models.ProposalAccepted
	s.db.proposals[id] = p
	return nil
}

func (s memProposals) RejectPending(_ context.Context, _ store.Selecter, taskID, keepID string) ([]models.Proposal, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Proposal
	for id, p := range s.db.proposals {
		if p.TaskID == taskID && p.Status == models.ProposalPending && id != keepID {
			p.Status = models.ProposalRejected
			s.db.proposals[id] = p
			out = append(out, p)
		}
	}
	return out, nil
}

func (s memProposals) CountAccepted(_ context.Context, _ store.Getter, taskID string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, p := range s.db.proposals {
		if p.TaskID == taskID && p.Status == models.ProposalAccepted {
			n++
		}
	}
	return n, nil
}

func (s memProposals) CountByTask(_ context.Context, _ store.Getter, taskID string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, p := range s.db.proposals {
		if p.TaskID == taskID {
			n++
		}
	}
	return n, nil
}

type memIntents struct{ db *memDB }

func (s memIntents) Create(_ context.Context, _ store.Execer, intent models.PaymentIntent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.intents {
		if existing.GatewayReference == intent.GatewayReference {
			return store.ErrConflict
		}
	}
	s.db.intents[intent.ID] = intent
	return nil
}

func (s memIntents) GetByReference(_ context.Context, reference string) (models.PaymentIntent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, intent := range s.db.intents {
		if intent.GatewayReference == reference {
			return intent, nil
		}
	}
	return models.PaymentIntent{}, store.ErrNotFound
}

func (s memIntents) GetByReferenceForUpdate(ctx context.Context, _ store.Getter, reference string) (models.PaymentIntent, error) {
	return s.GetByReference(ctx, reference)
}

func (s memIntents) Resolve(_ context.Context, _ store.Execer, id string, from, to models.IntentStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	intent, ok := s.db.intents[id]
	if !ok || intent.Status != from {
		return store.ErrStaleStatus
	}
	intent.Status = to
	s.db.intents[id] = intent
	return nil
}

type memWithdrawals struct{ db *memDB }

func (s memWithdrawals) HasPending(_ context.Context, _ store.Getter, accountID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, w := range s.db.withdrawals {
		if w.AccountID == accountID && w.Status == models.WithdrawalPending {
			return true, nil
		}
	}
	return false, nil
}

func (s memWithdrawals) Create(_ context.Context, _ store.Execer, w models.Withdrawal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.withdrawals[w.ID] = w
	return nil
}

func (s memWithdrawals) GetForUpdate(_ context.Context, _ store.Getter, id string) (models.Withdrawal, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.withdrawals[id]
	if !ok {
		return models.Withdrawal{}, store.ErrNotFound
	}
	return w, nil
}

func (s memWithdrawals) Resolve(_ context.Context, _ store.Execer, id string, to models.WithdrawalStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.withdrawals[id]
	if !ok || w.Status != models.WithdrawalPending {
		return store.ErrStaleStatus
	}
	w.Status = to
	s.db.withdrawals[id] = w
	return nil
}

type memAudit struct{ db *memDB }

func (s memAudit) Log(_ context.Context, _ store.Execer, actorID, action, entityType, entityID, data string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audits = append(s.db.audits, action)
	return nil
}

type memDirectory struct{ db *memDB }

func (s memDirectory) UserExists(_ context.Context, userID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.users[userID], nil
}

type recordingHub struct {
	mu      sync.Mutex
	updates map[string][]websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.updates == nil {
		h.updates = map[string][]websocket.BalanceUpdate{}
	}
	h.updates[userID] = append(h.updates[userID], update)
}

func (h *recordingHub) last(userID string) (websocket.BalanceUpdate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	updates := h.updates[userID]
	if len(updates) == 0 {
		return websocket.BalanceUpdate{}, false
	}
	return updates[len(updates)-1], true
}

type recordingMetrics struct {
	mu              sync.Mutex
	settlements     map[string]int
	reconciliations map[string]int
	rejectedDebits  int
	mismatches      int
}

func (m *recordingMetrics) Settlement(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settlements == nil {
		m.settlements = map[string]int{}
	}
	m.settlements[outcome]++
}

func (m *recordingMetrics) Reconciliation(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconciliations == nil {
		m.reconciliations = map[string]int{}
	}
	m.reconciliations[outcome]++
}

func (m *recordingMetrics) DebitRejected(models.EntryKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectedDebits++
}

func (m *recordingMetrics) AuditMismatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mismatches++
}

const platformAccountID = "platform"

type fixture struct {
	db          *memDB
	hub         *recordingHub
	metrics     *recordingMetrics
	wallet      *WalletService
	proposals   *ProposalRegistry
	tasks       *TaskService
	payments    *PaymentService
	withdrawals *WithdrawalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mdb := newMemDB()
	txRunner := memTxRunner{db: mdb}
	hub := &recordingHub{}
	metrics := &recordingMetrics{}
	accounts := memAccounts{db: mdb}
	ledger := memLedger{db: mdb}
	tasks := memTasks{db: mdb}
	proposals := memProposals{db: mdb}
	audit := memAudit{db: mdb}

	wallet := NewWalletService(txRunner, accounts, ledger, memDirectory{db: mdb}, hub, metrics, nil)
	registry := NewProposalRegistry(txRunner, tasks, proposals, audit, nil)
	engine := NewSettlementEngine(wallet, accounts, proposals)
	f := &fixture{
		db:          mdb,
		hub:         hub,
		metrics:     metrics,
		wallet:      wallet,
		proposals:   registry,
		tasks:       NewTaskService(txRunner, tasks, registry, engine, wallet, audit, DefaultFeePolicy(), metrics, nil),
		payments:    NewPaymentService(txRunner, memIntents{db: mdb}, wallet, audit, metrics, nil),
		withdrawals: NewWithdrawalService(txRunner, memWithdrawals{db: mdb}, accounts, wallet, audit, 1000, nil),
	}
	require.NoError(t, accounts.Create(context.Background(), nil, platformAccountID, nil, true))
	return f
}

// addUser registers a user with an account funded through a deposit entry.
func (f *fixture) addUser(t *testing.T, userID string, balance int64, roles ...models.Role) (Actor, string) {
	t.Helper()
	ctx := context.Background()
	f.db.mu.Lock()
	f.db.users[userID] = true
	f.db.mu.Unlock()
	actor := Actor{UserID: userID, Roles: roles}
	account, err := f.wallet.OpenAccount(ctx, actor)
	require.NoError(t, err)
	if balance > 0 {
		_, err := f.wallet.Credit(ctx, account.ID, balance, models.KindDeposit, "seed-"+userID)
		require.NoError(t, err)
	}
	return actor, account.ID
}

func (f *fixture) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	balance, err := f.wallet.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) entryCount() int {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return len(f.db.entries)
}

// requireLedgerConsistent replays every account and checks the stored balances.
func (f *fixture) requireLedgerConsistent(t *testing.T) {
	t.Helper()
	reports, err := f.wallet.AuditAll(context.Background())
	require.NoError(t, err)
	for _, report := range reports {
		require.Truef(t, report.OK(), "account %s: %v", report.AccountID, report.Problems)
		require.GreaterOrEqual(t, report.StoredBalance, int64(0))
	}
}
