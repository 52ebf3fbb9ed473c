package reaction

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OburuO/ville-messenger-app/internal/user"
)

type fakeStore struct {
	nextID    int64
	reactions map[int64]*Reaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{reactions: make(map[int64]*Reaction)}
}

func (f *fakeStore) Get(_ context.Context, entityType string, entityID, userID int64) (*Reaction, error) {
	for _, re := range f.reactions {
		if re.ReactableType == entityType && re.ReactableID == entityID && re.UserID == userID {
			cp := *re
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Insert(_ context.Context, re *Reaction) error {
	for _, existing := range f.reactions {
		if existing.ReactableType == re.ReactableType &&
			existing.ReactableID == re.ReactableID &&
			existing.UserID == re.UserID {
			return ErrDuplicate
		}
	}
	f.nextID++
	re.ID = f.nextID
	re.CreatedAt = time.Now().UTC()
	re.UpdatedAt = re.CreatedAt
	cp := *re
	f.reactions[re.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateEmoji(_ context.Context, id int64, emoji string) error {
	re, ok := f.reactions[id]
	if !ok {
		return fmt.Errorf("reaction %d not found", id)
	}
	re.Emoji = emoji
	re.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	delete(f.reactions, id)
	return nil
}

func (f *fakeStore) ListByEntity(_ context.Context, entityType string, entityID int64) ([]Resolved, error) {
	var out []Resolved
	for _, re := range f.reactions {
		if re.ReactableType == entityType && re.ReactableID == entityID {
			out = append(out, Resolved{
				ID:     re.ID,
				Emoji:  re.Emoji,
				UserID: re.UserID,
				User: user.Projection{
					ID:       re.UserID,
					Name:     fmt.Sprintf("user %d", re.UserID),
					Username: fmt.Sprintf("user%d", re.UserID),
				},
				CreatedAt: re.CreatedAt,
			})
		}
	}
	return out, nil
}

type fakeResolver struct {
	known map[int64]bool
}

func (f fakeResolver) Exists(_ context.Context, id int64) (bool, error) {
	return f.known[id], nil
}

func newTestService(known ...int64) (*Service, *fakeStore) {
	store := newFakeStore()
	svc := NewService(store, slog.Default())
	resolver := fakeResolver{known: map[int64]bool{}}
	for _, id := range known {
		resolver.known[id] = true
	}
	svc.RegisterEntity(EntityTypeMessages, resolver)
	return svc, store
}

func Test_React_Toggle_Add_Then_Remove(t *testing.T) {
	req := require.New(t)
	svc, store := newTestService(42)
	ctx := context.Background()

	action, list, err := svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)
	req.Equal(ActionAdded, action)
	req.Len(list, 1)

	action, list, err = svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)
	req.Equal(ActionRemoved, action)
	req.NotNil(list, "toggling off must yield an empty list, not null")
	req.Empty(list)
	req.Empty(store.reactions)
}

func Test_List_Without_Reactions_Is_Empty_Not_Nil(t *testing.T) {
	req := require.New(t)
	svc, _ := newTestService(42)

	list, err := svc.List(context.Background(), EntityTypeMessages, 42)
	req.NoError(err)
	req.NotNil(list)
	req.Empty(list)
}

func Test_React_Different_Emoji_Updates_In_Place(t *testing.T) {
	req := require.New(t)
	svc, store := newTestService(42)
	ctx := context.Background()

	_, _, err := svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)

	action, list, err := svc.React(ctx, EntityTypeMessages, 42, 7, "🎉")
	req.NoError(err)
	req.Equal(ActionUpdated, action)
	req.Len(list, 1)
	req.Equal("🎉", list[0].Emoji)
	req.Len(store.reactions, 1)
}

func Test_React_Scenario_Thumbs_Twice_Then_Party(t *testing.T) {
	req := require.New(t)
	svc, _ := newTestService(42)
	ctx := context.Background()

	_, _, err := svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)
	_, _, err = svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)
	action, list, err := svc.React(ctx, EntityTypeMessages, 42, 7, "🎉")
	req.NoError(err)

	req.Equal(ActionAdded, action)
	req.Len(list, 1)
	req.Equal("🎉", list[0].Emoji)
}

func Test_React_At_Most_One_Row_Per_User_And_Entity(t *testing.T) {
	req := require.New(t)
	svc, store := newTestService(42)
	ctx := context.Background()

	emojis := []string{"👍", "🎉", "❤️", "🎉", "👍"}
	for _, e := range emojis {
		_, _, err := svc.React(ctx, EntityTypeMessages, 42, 7, e)
		req.NoError(err)
	}

	count := 0
	for _, re := range store.reactions {
		if re.UserID == 7 && re.ReactableID == 42 {
			count++
		}
	}
	req.LessOrEqual(count, 1)
}

// racingStore hides the existing row from the first Get, so the toggle
// attempts an insert, hits the uniqueness constraint, and must re-read.
type racingStore struct {
	*fakeStore
	hidden bool
}

func (r *racingStore) Get(ctx context.Context, entityType string, entityID, userID int64) (*Reaction, error) {
	if r.hidden {
		r.hidden = false
		return nil, nil
	}
	return r.fakeStore.Get(ctx, entityType, entityID, userID)
}

func Test_React_Retries_Once_On_Duplicate_Race(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	racing := &racingStore{fakeStore: store}
	svc := NewService(racing, slog.Default())
	svc.RegisterEntity(EntityTypeMessages, fakeResolver{known: map[int64]bool{42: true}})
	ctx := context.Background()

	// Concurrent toggle by the same user already landed a 👍 row.
	req.NoError(store.Insert(ctx, &Reaction{
		UserID: 7, Emoji: "👍", ReactableType: EntityTypeMessages, ReactableID: 42,
	}))

	racing.hidden = true
	action, list, err := svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)
	req.Equal(ActionRemoved, action)
	req.Empty(list)
}

func Test_React_Unknown_Entity_Type(t *testing.T) {
	req := require.New(t)
	svc, _ := newTestService(42)

	_, _, err := svc.React(context.Background(), "posts", 42, 7, "👍")
	req.ErrorIs(err, ErrUnsupportedEntity)
}

func Test_React_Missing_Entity(t *testing.T) {
	req := require.New(t)
	svc, _ := newTestService(42)

	_, _, err := svc.React(context.Background(), EntityTypeMessages, 999, 7, "👍")
	req.ErrorIs(err, ErrEntityNotFound)
}

func Test_React_Invalid_Emoji_Has_No_Side_Effects(t *testing.T) {
	req := require.New(t)
	svc, store := newTestService(42)

	_, _, err := svc.React(context.Background(), EntityTypeMessages, 42, 7, "👍👍👍👍👍👍👍👍👍")
	req.ErrorIs(err, ErrEmojiTooLong)
	req.Empty(store.reactions)
}

func Test_List_Is_Read_Only(t *testing.T) {
	req := require.New(t)
	svc, store := newTestService(42)
	ctx := context.Background()

	_, _, err := svc.React(ctx, EntityTypeMessages, 42, 7, "👍")
	req.NoError(err)
	_, _, err = svc.React(ctx, EntityTypeMessages, 42, 8, "👍")
	req.NoError(err)

	list, err := svc.List(ctx, EntityTypeMessages, 42)
	req.NoError(err)
	req.Len(list, 2)
	req.Len(store.reactions, 2)
}

func Test_Grouped_Counts_And_Membership(t *testing.T) {
	req := require.New(t)

	alice := user.Projection{ID: 1, Name: "Alice", Username: "alice"}
	bob := user.Projection{ID: 2, Name: "Bob", Username: "bob"}
	clara := user.Projection{ID: 3, Name: "Clara", Username: "clara"}

	reactions := []Resolved{
		{ID: 1, Emoji: "👍", UserID: 1, User: alice},
		{ID: 2, Emoji: "👍", UserID: 2, User: bob},
		{ID: 3, Emoji: "🎉", UserID: 3, User: clara},
	}

	groups := Grouped(reactions, 2)
	req.Len(groups, 2)

	byEmoji := map[string]Group{}
	for _, g := range groups {
		byEmoji[g.Emoji] = g
	}

	thumbs := byEmoji["👍"]
	req.Equal(2, thumbs.Count)
	req.ElementsMatch([]user.Projection{alice, bob}, thumbs.Users)
	req.True(thumbs.UserReacted)

	party := byEmoji["🎉"]
	req.Equal(1, party.Count)
	req.False(party.UserReacted)
}
