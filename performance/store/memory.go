// Package store provides an in-memory performance.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements performance.TxStore. Transactions are simulated with a
// snapshot of the whole state that is restored when the function fails.
type Memory struct {
	mu sync.RWMutex
	st *state

	faultMu sync.Mutex
	faults  map[string]error
}

type mappingKey struct {
	UserID   performance.UserID
	EntityID performance.EntityID
}

type monthKey struct {
	UserID performance.UserID
	Month  performance.Month
}

type dayKey struct {
	UserID performance.UserID
	Date   string
}

type delayKey struct {
	UserID performance.UserID
	Month  performance.Month
	Reason performance.DelayReason
}

type state struct {
	users    map[performance.UserID]performance.User
	entities map[performance.EntityID]performance.Entity
	mappings map[mappingKey]performance.UserEntityMapping
	rows     map[performance.RowID]performance.MonthlyRow
	rowKeys  map[performance.RowKey]performance.RowID
	unlocks  map[performance.UnlockRequestID]performance.UnlockRequest
	audit    []performance.ChangeAudit
	caches   map[monthKey]performance.AttendanceMonthlyCache
	daily    map[dayKey]performance.DailyAttendance
	delays   map[delayKey]performance.AppraisalDelay
}

func newState() *state {
	return &state{
		users:    make(map[performance.UserID]performance.User),
		entities: make(map[performance.EntityID]performance.Entity),
		mappings: make(map[mappingKey]performance.UserEntityMapping),
		rows:     make(map[performance.RowID]performance.MonthlyRow),
		rowKeys:  make(map[performance.RowKey]performance.RowID),
		unlocks:  make(map[performance.UnlockRequestID]performance.UnlockRequest),
		caches:   make(map[monthKey]performance.AttendanceMonthlyCache),
		daily:    make(map[dayKey]performance.DailyAttendance),
		delays:   make(map[delayKey]performance.AppraisalDelay),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.mappings {
		c.mappings[k] = v
	}
	for k, v := range s.rows {
		c.rows[k] = copyRow(v)
	}
	for k, v := range s.rowKeys {
		c.rowKeys[k] = v
	}
	for k, v := range s.unlocks {
		c.unlocks[k] = v
	}
	c.audit = append([]performance.ChangeAudit(nil), s.audit...)
	for k, v := range s.caches {
		c.caches[k] = v
	}
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.delays {
		c.delays[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{st: newState(), faults: make(map[string]error)}
}

// FailOn makes the next call to the named operation (e.g.
// "CompareAndSetStatus") return err. Used by tests to simulate a crash
// between two writes.
func (m *Memory) FailOn(op string, err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.faults[op] = err
}

func (m *Memory) takeFault(op string) error {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	err, ok := m.faults[op]
	if !ok {
		return nil
	}
	delete(m.faults, op)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(performance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{m: m}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) read(fn func(v *view)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&view{m: m})
}

func (m *Memory) write(fn func(v *view)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&view{m: m})
}

// =============================================================================
// LOCKING WRAPPERS - performance.Store on Memory
// =============================================================================

func (m *Memory) GetRow(ctx context.Context, id performance.RowID) (row *performance.MonthlyRow, err error) {
	m.read(func(v *view) { row, err = v.GetRow(ctx, id) })
	return
}

func (m *Memory) GetRowByKey(ctx context.Context, key performance.RowKey) (row *performance.MonthlyRow, err error) {
	m.read(func(v *view) { row, err = v.GetRowByKey(ctx, key) })
	return
}

func (m *Memory) ListUserRows(ctx context.Context, userID performance.UserID, month performance.Month) (rows []performance.MonthlyRow, err error) {
	m.read(func(v *view) { rows, err = v.ListUserRows(ctx, userID, month) })
	return
}

func (m *Memory) ListRows(ctx context.Context, filter performance.RowFilter) (rows []performance.MonthlyRow, err error) {
	m.read(func(v *view) { rows, err = v.ListRows(ctx, filter) })
	return
}

func (m *Memory) InsertRow(ctx context.Context, row performance.MonthlyRow) (err error) {
	m.write(func(v *view) { err = v.InsertRow(ctx, row) })
	return
}

func (m *Memory) UpdateRowContent(ctx context.Context, row performance.MonthlyRow, editable []performance.RowStatus) (ok bool, err error) {
	m.write(func(v *view) { ok, err = v.UpdateRowContent(ctx, row, editable) })
	return
}

func (m *Memory) CompareAndSetStatus(ctx context.Context, id performance.RowID, from performance.RowStatus, change performance.StatusChange) (ok bool, err error) {
	m.write(func(v *view) { ok, err = v.CompareAndSetStatus(ctx, id, from, change) })
	return
}

func (m *Memory) SaveComputedScores(ctx context.Context, id performance.RowID, scores performance.ComputedScores, at time.Time) (err error) {
	m.write(func(v *view) { err = v.SaveComputedScores(ctx, id, scores, at) })
	return
}

func (m *Memory) CreateUnlockRequest(ctx context.Context, req performance.UnlockRequest) (err error) {
	m.write(func(v *view) { err = v.CreateUnlockRequest(ctx, req) })
	return
}

func (m *Memory) GetUnlockRequest(ctx context.Context, id performance.UnlockRequestID) (req *performance.UnlockRequest, err error) {
	m.read(func(v *view) { req, err = v.GetUnlockRequest(ctx, id) })
	return
}

func (m *Memory) PendingUnlockForRow(ctx context.Context, rowID performance.RowID) (req *performance.UnlockRequest, err error) {
	m.read(func(v *view) { req, err = v.PendingUnlockForRow(ctx, rowID) })
	return
}

func (m *Memory) ListUnlockRequests(ctx context.Context, managerID performance.UserID, status performance.UnlockStatus) (reqs []performance.UnlockRequest, err error) {
	m.read(func(v *view) { reqs, err = v.ListUnlockRequests(ctx, managerID, status) })
	return
}

func (m *Memory) CompareAndSetUnlock(ctx context.Context, id performance.UnlockRequestID, from performance.UnlockStatus, change performance.UnlockChange) (ok bool, err error) {
	m.write(func(v *view) { ok, err = v.CompareAndSetUnlock(ctx, id, from, change) })
	return
}

func (m *Memory) AppendAudit(ctx context.Context, entry performance.ChangeAudit) (err error) {
	m.write(func(v *view) { err = v.AppendAudit(ctx, entry) })
	return
}

func (m *Memory) QueryAudit(ctx context.Context, filter performance.AuditFilter) (entries []performance.ChangeAudit, err error) {
	m.read(func(v *view) { entries, err = v.QueryAudit(ctx, filter) })
	return
}

func (m *Memory) GetUser(ctx context.Context, id performance.UserID) (u *performance.User, err error) {
	m.read(func(v *view) { u, err = v.GetUser(ctx, id) })
	return
}

func (m *Memory) SaveUser(ctx context.Context, u performance.User) (err error) {
	m.write(func(v *view) { err = v.SaveUser(ctx, u) })
	return
}

func (m *Memory) ListUsers(ctx context.Context, managerID *performance.UserID) (users []performance.User, err error) {
	m.read(func(v *view) { users, err = v.ListUsers(ctx, managerID) })
	return
}

func (m *Memory) GetEntity(ctx context.Context, id performance.EntityID) (e *performance.Entity, err error) {
	m.read(func(v *view) { e, err = v.GetEntity(ctx, id) })
	return
}

func (m *Memory) SaveEntity(ctx context.Context, e performance.Entity) (err error) {
	m.write(func(v *view) { err = v.SaveEntity(ctx, e) })
	return
}

func (m *Memory) ListMappings(ctx context.Context, userID performance.UserID, activeOnly bool) (ms []performance.UserEntityMapping, err error) {
	m.read(func(v *view) { ms, err = v.ListMappings(ctx, userID, activeOnly) })
	return
}

func (m *Memory) SaveMapping(ctx context.Context, mapping performance.UserEntityMapping) (err error) {
	m.write(func(v *view) { err = v.SaveMapping(ctx, mapping) })
	return
}

func (m *Memory) GetAttendanceCache(ctx context.Context, userID performance.UserID, month performance.Month) (c *performance.AttendanceMonthlyCache, err error) {
	m.read(func(v *view) { c, err = v.GetAttendanceCache(ctx, userID, month) })
	return
}

func (m *Memory) SaveAttendanceCache(ctx context.Context, c performance.AttendanceMonthlyCache) (err error) {
	m.write(func(v *view) { err = v.SaveAttendanceCache(ctx, c) })
	return
}

func (m *Memory) SaveDailyAttendance(ctx context.Context, d performance.DailyAttendance) (err error) {
	m.write(func(v *view) { err = v.SaveDailyAttendance(ctx, d) })
	return
}

func (m *Memory) ListDailyAttendance(ctx context.Context, userID performance.UserID, month performance.Month) (ds []performance.DailyAttendance, err error) {
	m.read(func(v *view) { ds, err = v.ListDailyAttendance(ctx, userID, month) })
	return
}

func (m *Memory) UpsertAppraisalDelay(ctx context.Context, d performance.AppraisalDelay) (err error) {
	m.write(func(v *view) { err = v.UpsertAppraisalDelay(ctx, d) })
	return
}

func (m *Memory) ClearAppraisalDelay(ctx context.Context, userID performance.UserID, month performance.Month, reason performance.DelayReason) (err error) {
	m.write(func(v *view) { err = v.ClearAppraisalDelay(ctx, userID, month, reason) })
	return
}

func (m *Memory) ListAppraisalDelays(ctx context.Context, userID performance.UserID, month performance.Month) (ds []performance.AppraisalDelay, err error) {
	m.read(func(v *view) { ds, err = v.ListAppraisalDelays(ctx, userID, month) })
	return
}

// =============================================================================
// VIEW - Unlocked operations on the state, shared by Memory and WithTx
// =============================================================================

// view must only be used while Memory.mu is held.
type view struct {
	m *Memory
}

func (v *view) st() *state { return v.m.st }

func (v *view) GetRow(_ context.Context, id performance.RowID) (*performance.MonthlyRow, error) {
	if err := v.m.takeFault("GetRow"); err != nil {
		return nil, err
	}
	row, ok := v.st().rows[id]
	if !ok {
		return nil, nil
	}
	row = copyRow(row)
	return &row, nil
}

func (v *view) GetRowByKey(ctx context.Context, key performance.RowKey) (*performance.MonthlyRow, error) {
	if err := v.m.takeFault("GetRowByKey"); err != nil {
		return nil, err
	}
	id, ok := v.st().rowKeys[key]
	if !ok {
		return nil, nil
	}
	return v.GetRow(ctx, id)
}

func (v *view) ListUserRows(_ context.Context, userID performance.UserID, month performance.Month) ([]performance.MonthlyRow, error) {
	if err := v.m.takeFault("ListUserRows"); err != nil {
		return nil, err
	}
	var rows []performance.MonthlyRow
	for _, row := range v.st().rows {
		if row.UserID == userID && row.Month == month {
			rows = append(rows, copyRow(row))
		}
	}
	sortRows(rows)
	return rows, nil
}

func (v *view) ListRows(_ context.Context, filter performance.RowFilter) ([]performance.MonthlyRow, error) {
	if err := v.m.takeFault("ListRows"); err != nil {
		return nil, err
	}
	var rows []performance.MonthlyRow
	for _, row := range v.st().rows {
		if !v.matches(filter, row) {
			continue
		}
		rows = append(rows, copyRow(row))
	}
	sortRows(rows)
	return rows, nil
}

func (v *view) matches(f performance.RowFilter, row performance.MonthlyRow) bool {
	if len(f.UserIDs) > 0 && !containsUser(f.UserIDs, row.UserID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, row.Status) {
		return false
	}
	if f.Year != 0 && row.Month.Year != f.Year {
		return false
	}
	if f.Month != 0 && row.Month.Month != f.Month {
		return false
	}
	if f.ManagerID != nil {
		u, ok := v.st().users[row.UserID]
		if !ok || !u.IsManagedBy(*f.ManagerID) {
			return false
		}
	}
	return true
}

func (v *view) InsertRow(_ context.Context, row performance.MonthlyRow) error {
	if err := v.m.takeFault("InsertRow"); err != nil {
		return err
	}
	if _, exists := v.st().rowKeys[row.Key()]; exists {
		return performance.ErrDuplicateRow
	}
	if _, exists := v.st().rows[row.ID]; exists {
		return performance.ErrDuplicateRow
	}
	v.st().rows[row.ID] = copyRow(row)
	v.st().rowKeys[row.Key()] = row.ID
	return nil
}

func (v *view) UpdateRowContent(_ context.Context, row performance.MonthlyRow, editable []performance.RowStatus) (bool, error) {
	if err := v.m.takeFault("UpdateRowContent"); err != nil {
		return false, err
	}
	stored, ok := v.st().rows[row.ID]
	if !ok || !containsStatus(editable, stored.Status) {
		return false, nil
	}
	stored.KPI = row.KPI
	stored.Learning = append([]performance.LearningEntry(nil), row.Learning...)
	stored.WorkSummary = row.WorkSummary
	stored.UpdatedAt = row.UpdatedAt
	v.st().rows[row.ID] = stored
	return true, nil
}

func (v *view) CompareAndSetStatus(_ context.Context, id performance.RowID, from performance.RowStatus, change performance.StatusChange) (bool, error) {
	if err := v.m.takeFault("CompareAndSetStatus"); err != nil {
		return false, err
	}
	row, ok := v.st().rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	change.Apply(&row)
	v.st().rows[id] = copyRow(row)
	return true, nil
}

func (v *view) SaveComputedScores(_ context.Context, id performance.RowID, scores performance.ComputedScores, at time.Time) error {
	if err := v.m.takeFault("SaveComputedScores"); err != nil {
		return err
	}
	row, ok := v.st().rows[id]
	if !ok {
		return nil
	}
	row.ComputedScores = &scores
	row.LastComputedAt = &at
	v.st().rows[id] = row
	return nil
}

func (v *view) CreateUnlockRequest(ctx context.Context, req performance.UnlockRequest) error {
	if err := v.m.takeFault("CreateUnlockRequest"); err != nil {
		return err
	}
	for _, existing := range v.st().unlocks {
		if existing.RowID == req.RowID && existing.Status == performance.UnlockPending {
			return performance.ErrDuplicatePendingUnlock
		}
	}
	v.st().unlocks[req.ID] = req
	return nil
}

func (v *view) GetUnlockRequest(_ context.Context, id performance.UnlockRequestID) (*performance.UnlockRequest, error) {
	if err := v.m.takeFault("GetUnlockRequest"); err != nil {
		return nil, err
	}
	req, ok := v.st().unlocks[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (v *view) PendingUnlockForRow(_ context.Context, rowID performance.RowID) (*performance.UnlockRequest, error) {
	if err := v.m.takeFault("PendingUnlockForRow"); err != nil {
		return nil, err
	}
	for _, req := range v.st().unlocks {
		if req.RowID == rowID && req.Status == performance.UnlockPending {
			r := req
			return &r, nil
		}
	}
	return nil, nil
}

func (v *view) ListUnlockRequests(_ context.Context, managerID performance.UserID, status performance.UnlockStatus) ([]performance.UnlockRequest, error) {
	if err := v.m.takeFault("ListUnlockRequests"); err != nil {
		return nil, err
	}
	var reqs []performance.UnlockRequest
	for _, req := range v.st().unlocks {
		if managerID != "" && req.ManagerID != managerID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	return reqs, nil
}

func (v *view) CompareAndSetUnlock(_ context.Context, id performance.UnlockRequestID, from performance.UnlockStatus, change performance.UnlockChange) (bool, error) {
	if err := v.m.takeFault("CompareAndSetUnlock"); err != nil {
		return false, err
	}
	req, ok := v.st().unlocks[id]
	if !ok || req.Status != from {
		return false, nil
	}
	at := change.At
	req.Status = change.To
	req.DecisionNote = change.DecisionNote
	req.DecidedAt = &at
	v.st().unlocks[id] = req
	return true, nil
}

func (v *view) AppendAudit(_ context.Context, entry performance.ChangeAudit) error {
	if err := v.m.takeFault("AppendAudit"); err != nil {
		return err
	}
	v.st().audit = append(v.st().audit, entry)
	return nil
}

func (v *view) QueryAudit(_ context.Context, filter performance.AuditFilter) ([]performance.ChangeAudit, error) {
	if err := v.m.takeFault("QueryAudit"); err != nil {
		return nil, err
	}
	var entries []performance.ChangeAudit
	for _, e := range v.st().audit {
		if !filter.Matches(e) {
			continue
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

func (v *view) GetUser(_ context.Context, id performance.UserID) (*performance.User, error) {
	if err := v.m.takeFault("GetUser"); err != nil {
		return nil, err
	}
	u, ok := v.st().users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (v *view) SaveUser(_ context.Context, u performance.User) error {
	if err := v.m.takeFault("SaveUser"); err != nil {
		return err
	}
	v.st().users[u.ID] = u
	return nil
}

func (v *view) ListUsers(_ context.Context, managerID *performance.UserID) ([]performance.User, error) {
	if err := v.m.takeFault("ListUsers"); err != nil {
		return nil, err
	}
	var users []performance.User
	for _, u := range v.st().users {
		if managerID != nil && !u.IsManagedBy(*managerID) {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (v *view) GetEntity(_ context.Context, id performance.EntityID) (*performance.Entity, error) {
	if err := v.m.takeFault("GetEntity"); err != nil {
		return nil, err
	}
	e, ok := v.st().entities[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (v *view) SaveEntity(_ context.Context, e performance.Entity) error {
	if err := v.m.takeFault("SaveEntity"); err != nil {
		return err
	}
	v.st().entities[e.ID] = e
	return nil
}

func (v *view) ListMappings(_ context.Context, userID performance.UserID, activeOnly bool) ([]performance.UserEntityMapping, error) {
	if err := v.m.takeFault("ListMappings"); err != nil {
		return nil, err
	}
	var ms []performance.UserEntityMapping
	for _, mapping := range v.st().mappings {
		if mapping.UserID != userID || (activeOnly && !mapping.Active) {
			continue
		}
		ms = append(ms, mapping)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].EntityID < ms[j].EntityID })
	return ms, nil
}

func (v *view) SaveMapping(_ context.Context, mapping performance.UserEntityMapping) error {
	if err := v.m.takeFault("SaveMapping"); err != nil {
		return err
	}
	v.st().mappings[mappingKey{UserID: mapping.UserID, EntityID: mapping.EntityID}] = mapping
	return nil
}

func (v *view) GetAttendanceCache(_ context.Context, userID performance.UserID, month performance.Month) (*performance.AttendanceMonthlyCache, error) {
	if err := v.m.takeFault("GetAttendanceCache"); err != nil {
		return nil, err
	}
	c, ok := v.st().caches[monthKey{UserID: userID, Month: month}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (v *view) SaveAttendanceCache(_ context.Context, c performance.AttendanceMonthlyCache) error {
	if err := v.m.takeFault("SaveAttendanceCache"); err != nil {
		return err
	}
	v.st().caches[monthKey{UserID: c.UserID, Month: c.Month}] = c
	return nil
}

func (v *view) SaveDailyAttendance(_ context.Context, d performance.DailyAttendance) error {
	if err := v.m.takeFault("SaveDailyAttendance"); err != nil {
		return err
	}
	v.st().daily[dayKey{UserID: d.UserID, Date: d.Date.UTC().Format("2006-01-02")}] = d
	return nil
}

func (v *view) ListDailyAttendance(_ context.Context, userID performance.UserID, month performance.Month) ([]performance.DailyAttendance, error) {
	if err := v.m.takeFault("ListDailyAttendance"); err != nil {
		return nil, err
	}
	var ds []performance.DailyAttendance
	for _, d := range v.st().daily {
		if d.UserID == userID && month.Contains(d.Date) {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Date.Before(ds[j].Date) })
	return ds, nil
}

func (v *view) UpsertAppraisalDelay(_ context.Context, d performance.AppraisalDelay) error {
	if err := v.m.takeFault("UpsertAppraisalDelay"); err != nil {
		return err
	}
	v.st().delays[delayKey{UserID: d.UserID, Month: d.Month, Reason: d.Reason}] = d
	return nil
}

func (v *view) ClearAppraisalDelay(_ context.Context, userID performance.UserID, month performance.Month, reason performance.DelayReason) error {
	if err := v.m.takeFault("ClearAppraisalDelay"); err != nil {
		return err
	}
	delete(v.st().delays, delayKey{UserID: userID, Month: month, Reason: reason})
	return nil
}

func (v *view) ListAppraisalDelays(_ context.Context, userID performance.UserID, month performance.Month) ([]performance.AppraisalDelay, error) {
	if err := v.m.takeFault("ListAppraisalDelays"); err != nil {
		return nil, err
	}
	var ds []performance.AppraisalDelay
	for _, d := range v.st().delays {
		if d.UserID == userID && d.Month == month {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Reason < ds[j].Reason })
	return ds, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func copyRow(row performance.MonthlyRow) performance.MonthlyRow {
	row.Learning = append([]performance.LearningEntry(nil), row.Learning...)
	if row.ComputedScores != nil {
		cs := *row.ComputedScores
		row.ComputedScores = &cs
	}
	return row
}

func sortRows(rows []performance.MonthlyRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		if rows[i].Month != rows[j].Month {
			return rows[i].Month.String() < rows[j].Month.String()
		}
		return rows[i].EntityID < rows[j].EntityID
	})
}

func containsUser(ids []performance.UserID, id performance.UserID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func containsStatus(statuses []performance.RowStatus, s performance.RowStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

var _ performance.TxStore = (*Memory)(nil)
var _ performance.Store = (*view)(nil)
