package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
)

// memDB is a stateful stand-in for Postgres that understands exactly the
// statements the stores issue. Transactions work on a copy of the state and
// are serialized, which is the observable effect of the row locks.
type memDB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *memState

	failSQL   string
	commits   int
	rollbacks int
}

type memState struct {
	listings      map[uuid.UUID]models.Listing
	requests      map[uuid.UUID]models.ExchangeRequest
	conversations map[uuid.UUID]models.Conversation
	messages      []models.Message
	nextMessageID int64
	tick          int
}

var memEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newMemDB() *memDB {
	return &memDB{state: &memState{
		listings:      map[uuid.UUID]models.Listing{},
		requests:      map[uuid.UUID]models.ExchangeRequest{},
		conversations: map[uuid.UUID]models.Conversation{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		listings:      make(map[uuid.UUID]models.Listing, len(s.listings)),
		requests:      make(map[uuid.UUID]models.ExchangeRequest, len(s.requests)),
		conversations: make(map[uuid.UUID]models.Conversation, len(s.conversations)),
		messages:      append([]models.Message(nil), s.messages...),
		nextMessageID: s.nextMessageID,
		tick:          s.tick,
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	return c
}

func (s *memState) now() time.Time {
	s.tick++
	return memEpoch.Add(time.Duration(s.tick) * time.Second)
}

func (m *memDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exec(m.state, sql, args)
}

func (m *memDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.query(m.state, sql, args)
}

func (m *memDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryRow(m.state, sql, args)
}

func (m *memDB) Begin(ctx context.Context) (Tx, error) {
	m.txMu.Lock()
	m.mu.Lock()
	state := m.state.clone()
	m.mu.Unlock()
	return &memTx{db: m, state: state}, nil
}

func (m *memDB) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memDB) mutate(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

type memTx struct {
	db    *memDB
	state *memState
	done  bool
}

func (t *memTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return t.db.exec(t.state, sql, args)
}

func (t *memTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.db.query(t.state, sql, args)
}

func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.db.queryRow(t.state, sql, args)
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.db.mu.Lock()
	t.db.state = t.state
	t.db.commits++
	t.db.mu.Unlock()
	t.done = true
	t.db.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	t.done = true
	t.db.txMu.Unlock()
	return nil
}

func (m *memDB) exec(s *memState, sql string, args []any) (CommandTag, error) {
	rows, affected, err := m.run(s, sql, args)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		affected = int64(len(rows))
	}
	return fakeCommandTag{rowsAffected: affected}, nil
}

func (m *memDB) query(s *memState, sql string, args []any) (Rows, error) {
	rows, _, err := m.run(s, sql, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{rows: rows}, nil
}

func (m *memDB) queryRow(s *memState, sql string, args []any) Row {
	rows, _, err := m.run(s, sql, args)
	if err != nil {
		return errRow(err)
	}
	if len(rows) == 0 {
		return errRow(pgx.ErrNoRows)
	}
	return rowFromValues(rows[0]...)
}

func (m *memDB) run(s *memState, sql string, args []any) ([][]any, int64, error) {
	sql = strings.Join(strings.Fields(sql), " ")
	if m.failSQL != "" && strings.Contains(sql, m.failSQL) {
		return nil, 0, errors.New("injected failure")
	}

	switch {
	// listings
	case strings.Contains(sql, "INSERT INTO listings"):
		now := s.now()
		l := models.Listing{
			ID:             uuid.New(),
			OwnerID:        args[0].(int64),
			Title:          args[1].(string),
			Author:         args[2].(string),
			Genre:          args[3].(string),
			ISBN:           args[4].(string),
			Condition:      args[5].(string),
			Description:    args[6].(string),
			PickupLocation: args[7].(string),
			SharingMode:    args[8].(models.ExchangeType),
			Status:         args[9].(models.ListingStatus),
			MaxLendingDays: args[10].(*int),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.listings[l.ID] = l
		return [][]any{listingRow(l)}, 0, nil

	case strings.Contains(sql, "DELETE FROM listings"):
		id := args[0].(uuid.UUID)
		if _, ok := s.listings[id]; !ok {
			return nil, 0, nil
		}
		delete(s.listings, id)
		for rid, r := range s.requests {
			offered, _ := r.OfferedListingID()
			if r.ListingID == id || offered == id {
				delete(s.requests, rid)
			}
		}
		for cid, c := range s.conversations {
			if c.ListingID == id {
				delete(s.conversations, cid)
				s.deleteMessages(cid)
			}
		}
		return nil, 1, nil

	case strings.Contains(sql, "UPDATE listings SET status"):
		l, ok := s.listings[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		l.Status = args[1].(models.ListingStatus)
		l.UpdatedAt = s.now()
		s.listings[l.ID] = l
		return [][]any{listingRow(l)}, 0, nil

	case strings.Contains(sql, "UPDATE listings SET title"):
		l, ok := s.listings[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		l.Title = args[1].(string)
		l.Author = args[2].(string)
		l.Genre = args[3].(string)
		l.ISBN = args[4].(string)
		l.Condition = args[5].(string)
		l.Description = args[6].(string)
		l.PickupLocation = args[7].(string)
		l.MaxLendingDays = args[8].(*int)
		l.UpdatedAt = s.now()
		s.listings[l.ID] = l
		return [][]any{listingRow(l)}, 0, nil

	case strings.Contains(sql, "FROM listings WHERE id = $1"):
		l, ok := s.listings[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		return [][]any{listingRow(l)}, 0, nil

	case strings.Contains(sql, "FROM listings WHERE owner_id = $1"):
		owner := args[0].(int64)
		return s.listingRows(func(l models.Listing) bool { return l.OwnerID == owner }, 0), 0, nil

	case strings.Contains(sql, "FROM listings WHERE status = $1"):
		return s.searchListings(sql, args), 0, nil

	// exchange requests
	case strings.Contains(sql, "SELECT EXISTS") && strings.Contains(sql, "exchange_requests"):
		listingID, requester, status := args[0].(uuid.UUID), args[1].(int64), args[2].(models.RequestStatus)
		for _, r := range s.requests {
			if r.ListingID == listingID && r.RequesterID == requester && r.Status == status {
				return [][]any{{true}}, 0, nil
			}
		}
		return [][]any{{false}}, 0, nil

	case strings.Contains(sql, "INSERT INTO exchange_requests"):
		listingID := args[0].(uuid.UUID)
		offered := args[6].(*uuid.UUID)
		for _, r := range s.requests {
			if r.Status != models.RequestStatusPending && r.Status != models.RequestStatusAccepted {
				continue
			}
			if r.ListingID == listingID {
				return nil, 0, &pgconn.PgError{Code: "23505", ConstraintName: "exchange_requests_active_listing_idx"}
			}
			if other, ok := r.OfferedListingID(); ok && offered != nil && other == *offered {
				return nil, 0, &pgconn.PgError{Code: "23505", ConstraintName: "exchange_requests_active_offered_idx"}
			}
		}
		terms, err := models.TermsFromColumns(args[3].(models.ExchangeType), offered, args[7].(*int))
		if err != nil {
			return nil, 0, &pgconn.PgError{Code: "23514", Message: err.Error()}
		}
		now := s.now()
		r := models.ExchangeRequest{
			ID:          uuid.New(),
			ListingID:   listingID,
			RequesterID: args[1].(int64),
			OwnerID:     args[2].(int64),
			Status:      args[4].(models.RequestStatus),
			Message:     args[5].(string),
			Terms:       terms,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.requests[r.ID] = r
		return [][]any{requestRow(r)}, 0, nil

	case strings.Contains(sql, "UPDATE exchange_requests SET status"):
		r, ok := s.requests[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		r.Status = args[1].(models.RequestStatus)
		r.UpdatedAt = s.now()
		s.requests[r.ID] = r
		return [][]any{{r.UpdatedAt}}, 0, nil

	case strings.Contains(sql, "COUNT(*) FROM exchange_requests WHERE owner_id = $1"):
		owner := args[0].(int64)
		return [][]any{{s.countRequests(func(r models.ExchangeRequest) bool {
			return r.OwnerID == owner && r.Status == models.RequestStatusPending
		})}}, 0, nil

	case strings.Contains(sql, "COUNT(*) FROM exchange_requests WHERE requester_id = $1"):
		requester := args[0].(int64)
		return [][]any{{s.countRequests(func(r models.ExchangeRequest) bool {
			return r.RequesterID == requester && (r.Status == models.RequestStatusAccepted ||
				r.Status == models.RequestStatusRejected || r.Status == models.RequestStatusCompleted)
		})}}, 0, nil

	case strings.Contains(sql, "FROM exchange_requests WHERE id = $1"):
		r, ok := s.requests[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		return [][]any{requestRow(r)}, 0, nil

	case strings.Contains(sql, "FROM exchange_requests WHERE requester_id = $1 AND status IN"):
		requester := args[0].(int64)
		return s.requestRows(func(r models.ExchangeRequest) bool { return r.RequesterID == requester && !r.Status.IsTerminal() }), 0, nil

	case strings.Contains(sql, "FROM exchange_requests WHERE owner_id = $1 AND status IN"):
		owner := args[0].(int64)
		return s.requestRows(func(r models.ExchangeRequest) bool { return r.OwnerID == owner && !r.Status.IsTerminal() }), 0, nil

	case strings.Contains(sql, "FROM exchange_requests WHERE requester_id = $1"):
		requester := args[0].(int64)
		return s.requestRows(func(r models.ExchangeRequest) bool { return r.RequesterID == requester }), 0, nil

	case strings.Contains(sql, "FROM exchange_requests WHERE owner_id = $1"):
		owner := args[0].(int64)
		return s.requestRows(func(r models.ExchangeRequest) bool { return r.OwnerID == owner }), 0, nil

	case strings.Contains(sql, "FROM exchange_requests WHERE listing_id = $1"):
		listingID := args[0].(uuid.UUID)
		return s.requestRows(func(r models.ExchangeRequest) bool { return r.ListingID == listingID }), 0, nil

	// conversations
	case strings.Contains(sql, "SELECT EXISTS(SELECT 1 FROM conversations"):
		_, ok := s.conversationByRequest(args[0].(uuid.UUID))
		return [][]any{{ok}}, 0, nil

	case strings.Contains(sql, "INSERT INTO conversations"):
		requestID := args[1].(uuid.UUID)
		if _, ok := s.conversationByRequest(requestID); ok {
			return nil, 0, nil
		}
		now := s.now()
		c := models.Conversation{
			ID:           uuid.New(),
			ListingID:    args[0].(uuid.UUID),
			RequestID:    requestID,
			ParticipantA: args[2].(int64),
			ParticipantB: args[3].(int64),
			Status:       args[4].(models.ConversationStatus),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.conversations[c.ID] = c
		return [][]any{conversationRow(c)}, 0, nil

	case strings.Contains(sql, "UPDATE conversations SET status"):
		c, ok := s.conversations[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		c.Status = args[1].(models.ConversationStatus)
		c.UpdatedAt = s.now()
		s.conversations[c.ID] = c
		return [][]any{{c.UpdatedAt}}, 0, nil

	case strings.Contains(sql, "UPDATE conversations SET updated_at"):
		c, ok := s.conversations[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		c.UpdatedAt = s.now()
		s.conversations[c.ID] = c
		return nil, 1, nil

	case strings.Contains(sql, "FROM conversations c"):
		return s.conversationsForUser(args), 0, nil

	case strings.Contains(sql, "FROM conversations WHERE request_id = $1"):
		c, ok := s.conversationByRequest(args[0].(uuid.UUID))
		if !ok {
			return nil, 0, nil
		}
		return [][]any{conversationRow(c)}, 0, nil

	case strings.Contains(sql, "FROM conversations WHERE id = $1"):
		c, ok := s.conversations[args[0].(uuid.UUID)]
		if !ok {
			return nil, 0, nil
		}
		return [][]any{conversationRow(c)}, 0, nil

	// messages
	case strings.Contains(sql, "INSERT INTO messages"):
		s.nextMessageID++
		msg := models.Message{
			ID:             s.nextMessageID,
			ConversationID: args[0].(uuid.UUID),
			SenderID:       args[1].(*int64),
			Content:        args[2].(string),
			Kind:           args[3].(models.MessageKind),
			CreatedAt:      s.now(),
		}
		s.messages = append(s.messages, msg)
		return [][]any{messageRow(msg)}, 0, nil

	case strings.Contains(sql, "COUNT(*) FROM messages"):
		convID, user := args[0].(uuid.UUID), args[1].(int64)
		return [][]any{{s.unread(convID, user)}}, 0, nil

	case strings.Contains(sql, "FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC"):
		rows := s.messageRows(args[0].(uuid.UUID), true)
		if n := args[1].(int); len(rows) > n {
			rows = rows[:n]
		}
		return rows, 0, nil

	case strings.Contains(sql, "FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC"):
		return s.messageRows(args[0].(uuid.UUID), false), 0, nil
	}

	return nil, 0, fmt.Errorf("memDB: unhandled sql: %s", sql)
}

func listingRow(l models.Listing) []any {
	return []any{l.ID, l.OwnerID, l.Title, l.Author, l.Genre, l.ISBN, l.Condition, l.Description,
		l.PickupLocation, l.SharingMode, l.Status, l.MaxLendingDays, l.CreatedAt, l.UpdatedAt}
}

func requestRow(r models.ExchangeRequest) []any {
	requestType, offered, duration := models.TermsColumns(r.Terms)
	message := r.Message
	return []any{r.ID, r.ListingID, r.RequesterID, r.OwnerID, requestType, r.Status, &message,
		offered, duration, r.CreatedAt, r.UpdatedAt}
}

func conversationRow(c models.Conversation) []any {
	return []any{c.ID, c.ListingID, c.RequestID, c.ParticipantA, c.ParticipantB, c.Status, c.CreatedAt, c.UpdatedAt}
}

func messageRow(m models.Message) []any {
	return []any{m.ID, m.ConversationID, m.SenderID, m.Content, m.Kind, m.CreatedAt}
}

func (s *memState) listingRows(keep func(models.Listing) bool, limit int) [][]any {
	var listings []models.Listing
	for _, l := range s.listings {
		if keep(l) {
			listings = append(listings, l)
		}
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].CreatedAt.After(listings[j].CreatedAt) })
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, listingRow(l))
	}
	return rows
}

// searchListings mirrors the optional filters ListAvailable appends, in order.
func (s *memState) searchListings(sql string, args []any) [][]any {
	status := args[0].(models.ListingStatus)
	i := 1
	var pattern string
	if strings.Contains(sql, "ILIKE") {
		pattern = strings.ToLower(strings.Trim(args[i].(string), "%"))
		i++
	}
	var mode models.ExchangeType
	if strings.Contains(sql, "sharing_mode =") {
		mode = args[i].(models.ExchangeType)
		i++
	}
	var exclude int64
	if strings.Contains(sql, "owner_id <>") {
		exclude = args[i].(int64)
		i++
	}
	limit := args[i].(int)

	return s.listingRows(func(l models.Listing) bool {
		if l.Status != status {
			return false
		}
		if pattern != "" && !strings.Contains(strings.ToLower(l.Title), pattern) &&
			!strings.Contains(strings.ToLower(l.Author), pattern) &&
			!strings.Contains(strings.ToLower(l.Genre), pattern) {
			return false
		}
		if mode != "" && l.SharingMode != mode {
			return false
		}
		return exclude == 0 || l.OwnerID != exclude
	}, limit)
}

func (s *memState) requestRows(keep func(models.ExchangeRequest) bool) [][]any {
	var requests []models.ExchangeRequest
	for _, r := range s.requests {
		if keep(r) {
			requests = append(requests, r)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	rows := make([][]any, 0, len(requests))
	for _, r := range requests {
		rows = append(rows, requestRow(r))
	}
	return rows
}

func (s *memState) countRequests(keep func(models.ExchangeRequest) bool) int {
	count := 0
	for _, r := range s.requests {
		if keep(r) {
			count++
		}
	}
	return count
}

func (s *memState) conversationByRequest(requestID uuid.UUID) (models.Conversation, bool) {
	for _, c := range s.conversations {
		if c.RequestID == requestID {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func (s *memState) conversationsForUser(args []any) [][]any {
	user := args[0].(int64)
	var status models.ConversationStatus
	if len(args) > 1 {
		status = args[1].(models.ConversationStatus)
	}
	var convs []models.Conversation
	for _, c := range s.conversations {
		if !c.Involves(user) || (status != "" && c.Status != status) {
			continue
		}
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	rows := make([][]any, 0, len(convs))
	for _, c := range convs {
		rows = append(rows, append(conversationRow(c), s.unread(c.ID, user)))
	}
	return rows
}

func (s *memState) unread(conversationID uuid.UUID, user int64) int {
	count := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.Kind == models.MessageKindText && m.SenderID != nil && *m.SenderID != user {
			count++
		}
	}
	return count
}

func (s *memState) messageRows(conversationID uuid.UUID, newestFirst bool) [][]any {
	var rows [][]any
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			rows = append(rows, messageRow(m))
		}
	}
	if newestFirst {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows
}

func (s *memState) deleteMessages(conversationID uuid.UUID) {
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
}

func (s *memState) messagesFor(conversationID uuid.UUID) []models.Message {
	var msgs []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

type testStack struct {
	db            *memDB
	listings      *ListingService
	exchanges     *ExchangeService
	conversations *ConversationService
	orchestrator  *ExchangeOrchestrator
}

func newTestStack() *testStack {
	db := newMemDB()
	listings := NewListingService(db)
	exchanges := NewExchangeService(db, listings)
	conversations := NewConversationService(db)
	return &testStack{
		db:            db,
		listings:      listings,
		exchanges:     exchanges,
		conversations: conversations,
		orchestrator:  NewExchangeOrchestrator(db, exchanges, conversations),
	}
}

func (ts *testStack) createListing(t *testing.T, ownerID int64, mode models.ExchangeType) *models.Listing {
	t.Helper()
	params := CreateListingParams{
		Title:       "Dune",
		Author:      "Frank Herbert",
		Genre:       "Science Fiction",
		Condition:   "Good",
		SharingMode: mode,
	}
	if mode == models.ExchangeLend {
		days := 14
		params.MaxLendingDays = &days
	}
	listing, err := ts.listings.Create(context.Background(), ownerID, params)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return listing
}

func (ts *testStack) listingStatus(t *testing.T, id uuid.UUID) models.ListingStatus {
	t.Helper()
	l, ok := ts.db.snapshot().listings[id]
	if !ok {
		t.Fatalf("listing %s not found", id)
	}
	return l.Status
}

func (ts *testStack) requestStatus(t *testing.T, id uuid.UUID) models.RequestStatus {
	t.Helper()
	r, ok := ts.db.snapshot().requests[id]
	if !ok {
		t.Fatalf("request %s not found", id)
	}
	return r.Status
}
