package message

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OburuO/ville-messenger-app/internal/ledger"
	"github.com/OburuO/ville-messenger-app/internal/reaction"
	"github.com/OburuO/ville-messenger-app/internal/storage"
	"github.com/OburuO/ville-messenger-app/internal/user"
)

// fakeWorld backs Store, Ledger, and ReactionLister with maps. RunInTx
// snapshots the maps and restores them when the callback errors, so the
// rollback behavior under test matches a real transaction.
type fakeWorld struct {
	clock       time.Time
	nextMsgID   int64
	nextAttID   int64
	messages    map[int64]*Message
	attachments map[int64]*Attachment
	convos      map[string]*int64
	groups      map[int64]*int64
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		clock:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		messages:    make(map[int64]*Message),
		attachments: make(map[int64]*Attachment),
		convos:      make(map[string]*int64),
		groups:      make(map[int64]*int64),
	}
}

func (w *fakeWorld) tick() time.Time {
	w.clock = w.clock.Add(time.Second)
	return w.clock
}

func pairKey(a, b int64) string {
	lo, hi := ledger.NormalizePair(a, b)
	return fmt.Sprintf("%d-%d", lo, hi)
}

type worldSnapshot struct {
	nextMsgID, nextAttID int64
	messages             map[int64]*Message
	attachments          map[int64]*Attachment
	convos               map[string]*int64
	groups               map[int64]*int64
}

func copyPtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (w *fakeWorld) snapshot() worldSnapshot {
	snap := worldSnapshot{
		nextMsgID:   w.nextMsgID,
		nextAttID:   w.nextAttID,
		messages:    make(map[int64]*Message, len(w.messages)),
		attachments: make(map[int64]*Attachment, len(w.attachments)),
		convos:      make(map[string]*int64, len(w.convos)),
		groups:      make(map[int64]*int64, len(w.groups)),
	}
	for id, m := range w.messages {
		cp := *m
		snap.messages[id] = &cp
	}
	for id, a := range w.attachments {
		cp := *a
		snap.attachments[id] = &cp
	}
	for k, v := range w.convos {
		snap.convos[k] = copyPtr(v)
	}
	for k, v := range w.groups {
		snap.groups[k] = copyPtr(v)
	}
	return snap
}

func (w *fakeWorld) restore(snap worldSnapshot) {
	w.nextMsgID = snap.nextMsgID
	w.nextAttID = snap.nextAttID
	w.messages = snap.messages
	w.attachments = snap.attachments
	w.convos = snap.convos
	w.groups = snap.groups
}

func (w *fakeWorld) RunInTx(_ context.Context, fn func(q ledger.Querier) error) error {
	snap := w.snapshot()
	if err := fn(nil); err != nil {
		w.restore(snap)
		return err
	}
	return nil
}

func (w *fakeWorld) Insert(_ context.Context, _ ledger.Querier, m *Message) error {
	w.nextMsgID++
	m.ID = w.nextMsgID
	m.CreatedAt = w.tick()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	w.messages[m.ID] = &cp
	return nil
}

func (w *fakeWorld) InsertAttachment(_ context.Context, _ ledger.Querier, a *Attachment) error {
	w.nextAttID++
	a.ID = w.nextAttID
	a.CreatedAt = w.tick()
	cp := *a
	w.attachments[a.ID] = &cp
	return nil
}

func (w *fakeWorld) Get(_ context.Context, id int64) (*Message, error) {
	m, ok := w.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	cp.Sender = user.Projection{ID: m.SenderID, Name: fmt.Sprintf("user %d", m.SenderID)}
	cp.Attachments = w.attachmentsOf(id)
	return &cp, nil
}

func (w *fakeWorld) GetForUpdate(ctx context.Context, _ ledger.Querier, id int64) (*Message, error) {
	return w.Get(ctx, id)
}

func (w *fakeWorld) Delete(_ context.Context, _ ledger.Querier, id int64) error {
	delete(w.messages, id)
	for attID, a := range w.attachments {
		if a.MessageID == id {
			delete(w.attachments, attID)
		}
	}
	return nil
}

func (w *fakeWorld) AttachmentPaths(_ context.Context, _ ledger.Querier, messageID int64) ([]string, error) {
	var paths []string
	for _, a := range w.attachments {
		if a.MessageID == messageID {
			paths = append(paths, a.Path)
		}
	}
	return paths, nil
}

func (w *fakeWorld) GetAttachment(_ context.Context, id int64) (*Attachment, error) {
	a, ok := w.attachments[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (w *fakeWorld) attachmentsOf(messageID int64) []Attachment {
	var atts []Attachment
	for _, a := range w.attachments {
		if a.MessageID == messageID {
			atts = append(atts, *a)
		}
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].ID < atts[j].ID })
	return atts
}

func newestFirst(msgs []Message) []Message {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	return msgs
}

func (w *fakeWorld) directBetween(a, b int64) []Message {
	var out []Message
	for _, m := range w.messages {
		if m.ReceiverID == nil {
			continue
		}
		if (m.SenderID == a && *m.ReceiverID == b) || (m.SenderID == b && *m.ReceiverID == a) {
			out = append(out, *m)
		}
	}
	return newestFirst(out)
}

func (w *fakeWorld) inGroup(groupID int64) []Message {
	var out []Message
	for _, m := range w.messages {
		if m.GroupID != nil && *m.GroupID == groupID {
			out = append(out, *m)
		}
	}
	return newestFirst(out)
}

func pageOf(msgs []Message, page int) []Message {
	offset := (page - 1) * PerPage
	if offset >= len(msgs) {
		return nil
	}
	end := offset + PerPage
	if end > len(msgs) {
		end = len(msgs)
	}
	return msgs[offset:end]
}

func olderThan(msgs []Message, before time.Time) []Message {
	var out []Message
	for _, m := range msgs {
		if m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	if len(out) > PerPage {
		out = out[:PerPage]
	}
	return out
}

func (w *fakeWorld) ListDirect(_ context.Context, viewerID, otherID int64, page int) ([]Message, error) {
	return pageOf(w.directBetween(viewerID, otherID), page), nil
}

func (w *fakeWorld) ListGroup(_ context.Context, groupID int64, page int) ([]Message, error) {
	return pageOf(w.inGroup(groupID), page), nil
}

func (w *fakeWorld) OlderDirect(_ context.Context, a, b int64, before time.Time) ([]Message, error) {
	return olderThan(w.directBetween(a, b), before), nil
}

func (w *fakeWorld) OlderGroup(_ context.Context, groupID int64, before time.Time) ([]Message, error) {
	return olderThan(w.inGroup(groupID), before), nil
}

func (w *fakeWorld) TouchConversation(_ context.Context, _ ledger.Querier, a, b, messageID int64) error {
	id := messageID
	w.convos[pairKey(a, b)] = &id
	return nil
}

func (w *fakeWorld) SetGroupLastMessage(_ context.Context, _ ledger.Querier, groupID, messageID int64) error {
	if _, ok := w.groups[groupID]; !ok {
		return ledger.ErrGroupNotFound
	}
	id := messageID
	w.groups[groupID] = &id
	return nil
}

func (w *fakeWorld) repoint(pointer **int64, excluding int64, remaining []Message) (*int64, bool) {
	if *pointer == nil || **pointer != excluding {
		return nil, false
	}
	for _, m := range remaining {
		if m.ID != excluding {
			id := m.ID
			*pointer = &id
			return &id, true
		}
	}
	*pointer = nil
	return nil, true
}

func (w *fakeWorld) RepointConversation(_ context.Context, _ ledger.Querier, a, b, excluding int64) (*int64, bool, error) {
	ptr, ok := w.convos[pairKey(a, b)]
	if !ok {
		return nil, false, nil
	}
	newID, moved := w.repoint(&ptr, excluding, w.directBetween(a, b))
	w.convos[pairKey(a, b)] = ptr
	return newID, moved, nil
}

func (w *fakeWorld) RepointGroup(_ context.Context, _ ledger.Querier, groupID, excluding int64) (*int64, bool, error) {
	ptr, ok := w.groups[groupID]
	if !ok {
		return nil, false, ledger.ErrGroupNotFound
	}
	newID, moved := w.repoint(&ptr, excluding, w.inGroup(groupID))
	w.groups[groupID] = ptr
	return newID, moved, nil
}

func (w *fakeWorld) ListByEntity(_ context.Context, _ string, _ int64) ([]reaction.Resolved, error) {
	return nil, nil
}

type recordedFrame struct {
	Channel string
	Event   string
	Payload any
}

type fakePublisher struct {
	frames []recordedFrame
}

func (p *fakePublisher) Publish(_ context.Context, channel, event string, payload any) error {
	p.frames = append(p.frames, recordedFrame{Channel: channel, Event: event, Payload: payload})
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeWorld, *fakePublisher, *storage.Disk) {
	t.Helper()
	world := newFakeWorld()
	pub := &fakePublisher{}
	disk, err := storage.NewDisk(t.TempDir(), slog.Default())
	require.NoError(t, err)
	svc := NewService(world, world, disk, world, pub, slog.Default())
	return svc, world, pub, disk
}

func ptr(v int64) *int64 { return &v }

func Test_Create_Rejects_Empty_And_Ambiguous_Input(t *testing.T) {
	req := require.New(t)
	svc, world, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, CreateInput{Body: "   ", ReceiverID: ptr(2)})
	req.ErrorIs(err, ErrValidation)

	_, err = svc.Create(ctx, 1, CreateInput{Body: "hi"})
	req.ErrorIs(err, ErrValidation)

	_, err = svc.Create(ctx, 1, CreateInput{Body: "hi", ReceiverID: ptr(2), GroupID: ptr(3)})
	req.ErrorIs(err, ErrValidation)

	req.Empty(world.messages)
}

func Test_Create_Direct_Updates_One_Conversation_Row(t *testing.T) {
	req := require.New(t)
	svc, world, pub, _ := newTestService(t)
	ctx := context.Background()

	hi, err := svc.Create(ctx, 1, CreateInput{Body: "hi", ReceiverID: ptr(2)})
	req.NoError(err)
	req.NotNil(hi.Body)
	req.Equal("hi", *hi.Body)

	there, err := svc.Create(ctx, 2, CreateInput{Body: "there", ReceiverID: ptr(1)})
	req.NoError(err)

	// Both directions resolve the same ledger row; the pointer follows the
	// newest message.
	req.Len(world.convos, 1)
	last := world.convos[pairKey(1, 2)]
	req.NotNil(last)
	req.Equal(there.ID, *last)

	req.Len(pub.frames, 2)
	for _, f := range pub.frames {
		req.Equal("message.user.1-2", f.Channel)
		req.Equal("SocketMessage", f.Event)
	}
}

func Test_Create_Group_Sets_Last_Message(t *testing.T) {
	req := require.New(t)
	svc, world, pub, _ := newTestService(t)
	ctx := context.Background()
	world.groups[5] = nil

	m, err := svc.Create(ctx, 1, CreateInput{Body: "hello all", GroupID: ptr(5)})
	req.NoError(err)
	req.NotNil(world.groups[5])
	req.Equal(m.ID, *world.groups[5])

	req.Len(pub.frames, 1)
	req.Equal("message.group.5", pub.frames[0].Channel)
}

func Test_Create_Missing_Group_Rolls_Back(t *testing.T) {
	req := require.New(t)
	svc, world, pub, _ := newTestService(t)

	_, err := svc.Create(context.Background(), 1, CreateInput{Body: "hello", GroupID: ptr(99)})
	req.ErrorIs(err, ledger.ErrGroupNotFound)
	req.Empty(world.messages)
	req.Empty(pub.frames)
}

func Test_Create_Stores_Attachments_With_Message(t *testing.T) {
	req := require.New(t)
	svc, world, _, disk := newTestService(t)

	m, err := svc.Create(context.Background(), 1, CreateInput{
		ReceiverID: ptr(2),
		Attachments: []IncomingFile{
			{Name: "a.txt", Mime: "text/plain", Reader: strings.NewReader("first")},
			{Name: "b.txt", Mime: "text/plain", Reader: strings.NewReader("second")},
		},
	})
	req.NoError(err)
	req.Nil(m.Body)
	req.Len(m.Attachments, 2)
	req.Len(world.attachments, 2)

	for _, a := range m.Attachments {
		req.Equal(m.ID, a.MessageID)
		f, err := disk.Open(a.Path)
		req.NoError(err)
		req.NoError(f.Close())
	}
}

func Test_Create_Sniffs_Mime_When_Missing(t *testing.T) {
	req := require.New(t)
	svc, _, _, _ := newTestService(t)

	m, err := svc.Create(context.Background(), 1, CreateInput{
		ReceiverID: ptr(2),
		Attachments: []IncomingFile{
			{Name: "page.html", Reader: strings.NewReader("<!DOCTYPE html><html><body>hi</body></html>")},
		},
	})
	req.NoError(err)
	req.Len(m.Attachments, 1)
	req.Contains(m.Attachments[0].Mime, "text/html")
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("stream reset")
}

func Test_Create_Attachment_Failure_Is_Atomic(t *testing.T) {
	req := require.New(t)
	world := newFakeWorld()
	pub := &fakePublisher{}
	root := t.TempDir()
	disk, err := storage.NewDisk(root, slog.Default())
	req.NoError(err)
	svc := NewService(world, world, disk, world, pub, slog.Default())

	_, err = svc.Create(context.Background(), 1, CreateInput{
		ReceiverID: ptr(2),
		Attachments: []IncomingFile{
			{Name: "ok1.txt", Mime: "text/plain", Reader: strings.NewReader("one")},
			{Name: "ok2.txt", Mime: "text/plain", Reader: strings.NewReader("two")},
			{Name: "bad.bin", Mime: "application/pdf", Reader: brokenReader{}},
		},
	})
	req.Error(err)

	// Rows rolled back, nothing broadcast, and no file survives on disk.
	req.Empty(world.messages)
	req.Empty(world.attachments)
	req.Empty(pub.frames)
	req.Zero(countFilesUnder(t, root))
}

func countFilesUnder(t *testing.T, root string) int {
	t.Helper()
	files := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files++
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func Test_Create_Ledger_Failure_Removes_Stored_Files(t *testing.T) {
	req := require.New(t)
	world := newFakeWorld()
	pub := &fakePublisher{}
	root := t.TempDir()
	disk, err := storage.NewDisk(root, slog.Default())
	req.NoError(err)
	svc := NewService(world, world, disk, world, pub, slog.Default())

	// Files store fine; the transaction then fails at the ledger step.
	_, err = svc.Create(context.Background(), 1, CreateInput{
		GroupID: ptr(99),
		Attachments: []IncomingFile{
			{Name: "a.txt", Mime: "text/plain", Reader: strings.NewReader("one")},
			{Name: "b.txt", Mime: "text/plain", Reader: strings.NewReader("two")},
		},
	})
	req.ErrorIs(err, ledger.ErrGroupNotFound)

	req.Empty(world.messages)
	req.Empty(world.attachments)
	req.Empty(pub.frames)
	req.Zero(countFilesUnder(t, root))
}

func Test_Delete_Requires_Sender(t *testing.T) {
	req := require.New(t)
	svc, world, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, 1, CreateInput{Body: "mine", ReceiverID: ptr(2)})
	req.NoError(err)

	_, err = svc.Delete(ctx, m.ID, 2)
	req.ErrorIs(err, ErrForbidden)
	req.Contains(world.messages, m.ID)

	_, err = svc.Delete(ctx, 999, 1)
	req.ErrorIs(err, ErrNotFound)
}

func Test_Delete_Last_Group_Message_Repoints(t *testing.T) {
	req := require.New(t)
	svc, world, _, _ := newTestService(t)
	ctx := context.Background()
	world.groups[5] = nil

	m1, err := svc.Create(ctx, 1, CreateInput{Body: "m1", GroupID: ptr(5)})
	req.NoError(err)
	m2, err := svc.Create(ctx, 1, CreateInput{Body: "m2", GroupID: ptr(5)})
	req.NoError(err)
	m3, err := svc.Create(ctx, 1, CreateInput{Body: "m3", GroupID: ptr(5)})
	req.NoError(err)

	newLast, err := svc.Delete(ctx, m3.ID, 1)
	req.NoError(err)
	req.NotNil(newLast)
	req.Equal(m2.ID, newLast.ID)
	req.Equal(m2.ID, *world.groups[5])

	// Deleting a message that is not the pointer leaves the ledger alone
	// and reports no replacement.
	newLast, err = svc.Delete(ctx, m1.ID, 1)
	req.NoError(err)
	req.Nil(newLast)
	req.Equal(m2.ID, *world.groups[5])
}

func Test_Delete_Walks_Conversation_Pointer_Back(t *testing.T) {
	req := require.New(t)
	svc, world, _, _ := newTestService(t)
	ctx := context.Background()

	hi, err := svc.Create(ctx, 1, CreateInput{Body: "hi", ReceiverID: ptr(2)})
	req.NoError(err)
	there, err := svc.Create(ctx, 1, CreateInput{Body: "there", ReceiverID: ptr(2)})
	req.NoError(err)
	req.Equal(there.ID, *world.convos[pairKey(1, 2)])

	newLast, err := svc.Delete(ctx, there.ID, 1)
	req.NoError(err)
	req.NotNil(newLast)
	req.Equal(hi.ID, newLast.ID)
	req.Equal(hi.ID, *world.convos[pairKey(1, 2)])

	newLast, err = svc.Delete(ctx, hi.ID, 1)
	req.NoError(err)
	req.Nil(newLast)
	req.Nil(world.convos[pairKey(1, 2)])
}

func Test_Delete_Only_Message_Clears_Pointer(t *testing.T) {
	req := require.New(t)
	svc, world, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, 1, CreateInput{Body: "solo", ReceiverID: ptr(2)})
	req.NoError(err)

	newLast, err := svc.Delete(ctx, m.ID, 1)
	req.NoError(err)
	req.Nil(newLast)
	req.Nil(world.convos[pairKey(1, 2)])
}

func Test_Delete_Removes_Attachment_Files(t *testing.T) {
	req := require.New(t)
	svc, _, _, disk := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, 1, CreateInput{
		ReceiverID: ptr(2),
		Attachments: []IncomingFile{
			{Name: "a.txt", Mime: "text/plain", Reader: strings.NewReader("bytes")},
		},
	})
	req.NoError(err)
	path := m.Attachments[0].Path

	_, err = svc.Delete(ctx, m.ID, 1)
	req.NoError(err)

	_, err = disk.Open(path)
	req.True(os.IsNotExist(err))
}

func Test_ListByUser_Pages_Newest_First(t *testing.T) {
	req := require.New(t)
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < PerPage+3; i++ {
		_, err := svc.Create(ctx, 1, CreateInput{Body: fmt.Sprintf("msg %d", i), ReceiverID: ptr(2)})
		req.NoError(err)
	}

	page1, err := svc.ListByUser(ctx, 2, 1, 1)
	req.NoError(err)
	req.Len(page1.Messages, PerPage)
	req.Equal(fmt.Sprintf("msg %d", PerPage+2), *page1.Messages[0].Body)

	page2, err := svc.ListByUser(ctx, 2, 1, 2)
	req.NoError(err)
	req.Len(page2.Messages, 3)

	// Page zero is coerced to the first page.
	coerced, err := svc.ListByUser(ctx, 2, 1, 0)
	req.NoError(err)
	req.Equal(1, coerced.Page)
	req.Len(coerced.Messages, PerPage)
}

func Test_LoadOlder_Walks_History(t *testing.T) {
	req := require.New(t)
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		m, err := svc.Create(ctx, 1, CreateInput{Body: fmt.Sprintf("msg %d", i), ReceiverID: ptr(2)})
		req.NoError(err)
		ids = append(ids, m.ID)
	}

	page, err := svc.LoadOlder(ctx, ids[2])
	req.NoError(err)
	req.Len(page.Messages, 2)
	req.Equal(ids[1], page.Messages[0].ID)
	req.Equal(ids[0], page.Messages[1].ID)

	// The oldest message has nothing before it.
	page, err = svc.LoadOlder(ctx, ids[0])
	req.NoError(err)
	req.Empty(page.Messages)

	_, err = svc.LoadOlder(ctx, 999)
	req.ErrorIs(err, ErrNotFound)
}

func Test_Attachment_Lookup(t *testing.T) {
	req := require.New(t)
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, 1, CreateInput{
		ReceiverID: ptr(2),
		Attachments: []IncomingFile{
			{Name: "doc.txt", Mime: "text/plain", Reader: strings.NewReader("doc")},
		},
	})
	req.NoError(err)

	a, err := svc.Attachment(ctx, m.Attachments[0].ID)
	req.NoError(err)
	req.Equal("doc.txt", a.Name)

	_, err = svc.Attachment(ctx, 999)
	req.ErrorIs(err, ErrNotFound)
}
