package contentdata

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

// Memory is a Store kept in process memory, with the same constraints as the
// database schema. Transactions hold one lock for their whole duration and are
// rolled back by restoring a snapshot.
type Memory struct {
	memQueries

	mu sync.Mutex
	st *memState
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{st: newMemState()}
	m.memQueries = memQueries{m: m}
	return m
}

func (m *Memory) InTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&memQueries{m: m, inTx: true}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

type memState struct {
	nextID int

	users       map[int]models.User
	contents    map[int]models.Content
	authors     map[int][]models.ContentAuthor
	validations map[int]models.Validation
	published   map[int]models.PublishedContent
	sizes       map[sizeKey]models.ArtifactSize
	failures    map[int]models.ArtifactFailure
}

type sizeKey struct {
	publishedID int
	kind        models.ArtifactKind
}

func newMemState() *memState {
	return &memState{
		users:       map[int]models.User{},
		contents:    map[int]models.Content{},
		authors:     map[int][]models.ContentAuthor{},
		validations: map[int]models.Validation{},
		published:   map[int]models.PublishedContent{},
		sizes:       map[sizeKey]models.ArtifactSize{},
		failures:    map[int]models.ArtifactFailure{},
	}
}

func (s *memState) id() int {
	s.nextID++
	return s.nextID
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	res := make(map[K]V, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

// Pointer fields are never mutated in place, only replaced, so copying the
// structs is enough.
func (s *memState) clone() *memState {
	authors := make(map[int][]models.ContentAuthor, len(s.authors))
	for k, v := range s.authors {
		authors[k] = append([]models.ContentAuthor(nil), v...)
	}
	return &memState{
		nextID:      s.nextID,
		users:       cloneMap(s.users),
		contents:    cloneMap(s.contents),
		authors:     authors,
		validations: cloneMap(s.validations),
		published:   cloneMap(s.published),
		sizes:       cloneMap(s.sizes),
		failures:    cloneMap(s.failures),
	}
}

type memQueries struct {
	m    *Memory
	inTx bool
}

// state locks the store unless a transaction already holds it.
func (q *memQueries) state() (*memState, func()) {
	if q.inTx {
		return q.m.st, func() {}
	}
	q.m.mu.Lock()
	return q.m.st, q.m.mu.Unlock
}

func ptr[T any](v T) *T { return &v }

func (q *memQueries) GetUser(ctx context.Context, id int) (*models.User, error) {
	st, unlock := q.state()
	defer unlock()
	u, ok := st.users[id]
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no user %d", id)
	}
	return &u, nil
}

func (q *memQueries) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	st, unlock := q.state()
	defer unlock()
	for _, other := range st.users {
		if strings.EqualFold(other.Username, u.Username) {
			return nil, oops.New(ErrDuplicate, "username %s is taken", u.Username)
		}
	}
	u.ID = st.id()
	u.DateJoined = time.Now()
	st.users[u.ID] = u
	return &u, nil
}

func (q *memQueries) CreateContent(ctx context.Context, c models.Content, authorID int) (*models.Content, error) {
	st, unlock := q.state()
	defer unlock()
	for _, other := range st.contents {
		if other.Slug == c.Slug {
			return nil, oops.New(ErrDuplicate, "content slug %s is taken", c.Slug)
		}
	}
	now := time.Now()
	c.ID = st.id()
	c.DateCreated, c.DateUpdated = now, now
	c.ShaBeta, c.ShaValidation, c.ShaPublic, c.PublicVersionID = nil, nil, nil, nil
	st.contents[c.ID] = c
	st.authors[c.ID] = []models.ContentAuthor{{ContentID: c.ID, UserID: authorID, DateAdded: now}}
	return &c, nil
}

func (q *memQueries) GetContent(ctx context.Context, id int) (*models.Content, error) {
	st, unlock := q.state()
	defer unlock()
	c, ok := st.contents[id]
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no content %d", id)
	}
	return &c, nil
}

func (q *memQueries) ListContents(ctx context.Context) ([]*models.Content, error) {
	st, unlock := q.state()
	defer unlock()
	var res []*models.Content
	for _, c := range st.contents {
		res = append(res, ptr(c))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (q *memQueries) ContentSlugTaken(ctx context.Context, slug string, exceptID int) (bool, error) {
	st, unlock := q.state()
	defer unlock()
	for _, c := range st.contents {
		if c.Slug == slug && c.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

// updateContent applies f to a content row if it exists.
func (q *memQueries) updateContent(id int, f func(c *models.Content) error) error {
	st, unlock := q.state()
	defer unlock()
	c, ok := st.contents[id]
	if !ok {
		return oops.New(models.ErrNotFound, "no content %d", id)
	}
	if err := f(&c); err != nil {
		return err
	}
	st.contents[id] = c
	return nil
}

func (q *memQueries) AdvanceDraft(ctx context.Context, id int, oldSha, newSha string) error {
	return q.updateContent(id, func(c *models.Content) error {
		if c.ShaDraft != oldSha {
			return oops.New(models.ErrConcurrentEdit, "draft of content %d is no longer at %s", id, oldSha)
		}
		c.ShaDraft = newSha
		c.DateUpdated = time.Now()
		return nil
	})
}

func (q *memQueries) SetTitleAndSlug(ctx context.Context, id int, title, slug string) error {
	st, unlock := q.state()
	for _, other := range st.contents {
		if other.ID != id && other.Slug == slug {
			unlock()
			return oops.New(ErrDuplicate, "content slug %s is taken", slug)
		}
	}
	unlock()
	return q.updateContent(id, func(c *models.Content) error {
		c.Title, c.Slug = title, slug
		return nil
	})
}

func (q *memQueries) SetBeta(ctx context.Context, id int, sha *string) error {
	return q.updateContent(id, func(c *models.Content) error {
		c.ShaBeta = sha
		return nil
	})
}

func (q *memQueries) SetValidationSha(ctx context.Context, id int, sha *string) error {
	return q.updateContent(id, func(c *models.Content) error {
		c.ShaValidation = sha
		return nil
	})
}

func (q *memQueries) SwapPublicVersion(ctx context.Context, id int, expected, next *int, sha *string) error {
	return q.updateContent(id, func(c *models.Content) error {
		if !sameIntPtr(c.PublicVersionID, expected) {
			return oops.New(models.ErrConcurrentPublication, "public version of content %d moved", id)
		}
		c.PublicVersionID, c.ShaPublic = next, sha
		return nil
	})
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (q *memQueries) DeleteContent(ctx context.Context, id int) error {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.contents[id]; !ok {
		return oops.New(models.ErrNotFound, "no content %d", id)
	}
	delete(st.contents, id)
	delete(st.authors, id)
	for vid, v := range st.validations {
		if v.ContentID == id {
			delete(st.validations, vid)
		}
	}
	for pid, p := range st.published {
		if p.ContentID == id {
			st.deletePublished(pid)
		}
	}
	return nil
}

func (q *memQueries) ListAuthors(ctx context.Context, contentID int) ([]int, error) {
	st, unlock := q.state()
	defer unlock()
	var ids []int
	for _, a := range st.authors[contentID] {
		ids = append(ids, a.UserID)
	}
	return ids, nil
}

func (q *memQueries) AddAuthor(ctx context.Context, contentID, userID int) error {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.contents[contentID]; !ok {
		return oops.New(models.ErrNotFound, "no content %d", contentID)
	}
	authors := st.authors[contentID]
	position := 0
	for _, a := range authors {
		if a.UserID == userID {
			return nil
		}
		position = max(position, a.Position+1)
	}
	st.authors[contentID] = append(authors, models.ContentAuthor{
		ContentID: contentID,
		UserID:    userID,
		Position:  position,
		DateAdded: time.Now(),
	})
	return nil
}

func (q *memQueries) RemoveAuthor(ctx context.Context, contentID, userID int) (int, error) {
	st, unlock := q.state()
	defer unlock()
	var remaining []models.ContentAuthor
	for _, a := range st.authors[contentID] {
		if a.UserID != userID {
			remaining = append(remaining, a)
		}
	}
	st.authors[contentID] = remaining
	return len(remaining), nil
}

func (q *memQueries) GetValidation(ctx context.Context, id int) (*models.Validation, error) {
	st, unlock := q.state()
	defer unlock()
	v, ok := st.validations[id]
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no validation %d", id)
	}
	return &v, nil
}

func (q *memQueries) ActiveValidation(ctx context.Context, contentID int) (*models.Validation, error) {
	st, unlock := q.state()
	defer unlock()
	for _, v := range st.validations {
		if v.ContentID == contentID && v.Status.Active() {
			return ptr(v), nil
		}
	}
	return nil, oops.New(models.ErrNotFound, "no active validation for content %d", contentID)
}

func (q *memQueries) ListValidations(ctx context.Context, contentID int) ([]*models.Validation, error) {
	st, unlock := q.state()
	defer unlock()
	var res []*models.Validation
	for _, v := range st.validations {
		if v.ContentID == contentID {
			res = append(res, ptr(v))
		}
	}
	// IDs grow with time, so this is newest first.
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (q *memQueries) CreateValidation(ctx context.Context, v models.Validation) (*models.Validation, error) {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.contents[v.ContentID]; !ok {
		return nil, oops.New(models.ErrNotFound, "no content %d", v.ContentID)
	}
	if v.Status.Active() {
		for _, other := range st.validations {
			if other.ContentID == v.ContentID && other.Status.Active() {
				return nil, oops.New(ErrDuplicate, "content %d already has an active validation", v.ContentID)
			}
		}
	}
	v.ID = st.id()
	v.ValidatorID, v.DateReserve, v.DateValidation = nil, nil, nil
	v.CommentValidator = ""
	st.validations[v.ID] = v
	return &v, nil
}

func (q *memQueries) UpdateValidation(ctx context.Context, v *models.Validation) error {
	st, unlock := q.state()
	defer unlock()
	old, ok := st.validations[v.ID]
	if !ok {
		return oops.New(models.ErrNotFound, "no validation %d", v.ID)
	}
	if v.Status.Active() {
		for _, other := range st.validations {
			if other.ID != v.ID && other.ContentID == old.ContentID && other.Status.Active() {
				return oops.New(ErrDuplicate, "content %d already has an active validation", old.ContentID)
			}
		}
	}
	updated := old
	updated.Status = v.Status
	updated.ValidatorID = v.ValidatorID
	updated.CommentAuthor = v.CommentAuthor
	updated.CommentValidator = v.CommentValidator
	updated.DateReserve = v.DateReserve
	updated.DateValidation = v.DateValidation
	st.validations[v.ID] = updated
	return nil
}

func (q *memQueries) GetPublished(ctx context.Context, id int) (*models.PublishedContent, error) {
	st, unlock := q.state()
	defer unlock()
	p, ok := st.published[id]
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no publication %d", id)
	}
	return &p, nil
}

func (q *memQueries) ListPublished(ctx context.Context, contentID int) ([]*models.PublishedContent, error) {
	st, unlock := q.state()
	defer unlock()
	var res []*models.PublishedContent
	for _, p := range st.published {
		if p.ContentID == contentID {
			res = append(res, ptr(p))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (q *memQueries) PublicSlugTaken(ctx context.Context, slug string, exceptContentID int) (bool, error) {
	st, unlock := q.state()
	defer unlock()
	for _, p := range st.published {
		if p.PublicSlug == slug && p.ContentID != exceptContentID {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) InsertPublished(ctx context.Context, p models.PublishedContent) (*models.PublishedContent, error) {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.contents[p.ContentID]; !ok {
		return nil, oops.New(models.ErrNotFound, "no content %d", p.ContentID)
	}
	if !p.MustRedirect {
		for _, other := range st.published {
			if other.ContentID == p.ContentID && !other.MustRedirect {
				return nil, oops.New(ErrDuplicate, "content %d already has a live publication", p.ContentID)
			}
		}
	}
	p.ID = st.id()
	st.published[p.ID] = p
	return &p, nil
}

func (q *memQueries) MarkRedirect(ctx context.Context, id int) error {
	st, unlock := q.state()
	defer unlock()
	p, ok := st.published[id]
	if !ok {
		return oops.New(models.ErrNotFound, "no publication %d", id)
	}
	p.MustRedirect = true
	st.published[id] = p
	return nil
}

func (q *memQueries) DeletePublished(ctx context.Context, id int) error {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.published[id]; !ok {
		return oops.New(models.ErrNotFound, "no publication %d", id)
	}
	st.deletePublished(id)
	return nil
}

// Mirrors the ON DELETE rules of the schema.
func (s *memState) deletePublished(id int) {
	delete(s.published, id)
	for k := range s.sizes {
		if k.publishedID == id {
			delete(s.sizes, k)
		}
	}
	for fid, f := range s.failures {
		if f.PublishedID == id {
			delete(s.failures, fid)
		}
	}
	for cid, c := range s.contents {
		if c.PublicVersionID != nil && *c.PublicVersionID == id {
			c.PublicVersionID = nil
			s.contents[cid] = c
		}
	}
}

func (q *memQueries) GetArtifactSize(ctx context.Context, publishedID int, kind models.ArtifactKind) (*models.ArtifactSize, error) {
	st, unlock := q.state()
	defer unlock()
	s, ok := st.sizes[sizeKey{publishedID, kind}]
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no %s size for publication %d", kind, publishedID)
	}
	return &s, nil
}

func (q *memQueries) SaveArtifactSize(ctx context.Context, s models.ArtifactSize) error {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.published[s.PublishedID]; !ok {
		return oops.New(models.ErrNotFound, "no publication %d", s.PublishedID)
	}
	st.sizes[sizeKey{s.PublishedID, s.Kind}] = s
	return nil
}

func (q *memQueries) DeleteArtifactSize(ctx context.Context, publishedID int, kind models.ArtifactKind) error {
	st, unlock := q.state()
	defer unlock()
	delete(st.sizes, sizeKey{publishedID, kind})
	return nil
}

func (q *memQueries) RecordArtifactFailure(ctx context.Context, f models.ArtifactFailure) error {
	st, unlock := q.state()
	defer unlock()
	if _, ok := st.published[f.PublishedID]; !ok {
		return oops.New(models.ErrNotFound, "no publication %d", f.PublishedID)
	}
	for id, other := range st.failures {
		if other.PublishedID == f.PublishedID && other.Kind == f.Kind {
			f.ID = id
			st.failures[id] = f
			return nil
		}
	}
	f.ID = st.id()
	st.failures[f.ID] = f
	return nil
}

func (q *memQueries) DueArtifactFailures(ctx context.Context, now time.Time, limit int) ([]*models.ArtifactFailure, error) {
	st, unlock := q.state()
	defer unlock()
	var res []*models.ArtifactFailure
	for _, f := range st.failures {
		if !f.NextAttempt.After(now) {
			res = append(res, ptr(f))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].NextAttempt.Equal(res[j].NextAttempt) {
			return res[i].NextAttempt.Before(res[j].NextAttempt)
		}
		return res[i].ID < res[j].ID
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (q *memQueries) ListArtifactFailures(ctx context.Context, publishedID int) ([]*models.ArtifactFailure, error) {
	st, unlock := q.state()
	defer unlock()
	var res []*models.ArtifactFailure
	for _, f := range st.failures {
		if f.PublishedID == publishedID {
			res = append(res, ptr(f))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Kind < res[j].Kind })
	return res, nil
}

func (q *memQueries) UpdateArtifactFailure(ctx context.Context, f *models.ArtifactFailure) error {
	st, unlock := q.state()
	defer unlock()
	old, ok := st.failures[f.ID]
	if !ok {
		return oops.New(models.ErrNotFound, "no artifact failure %d", f.ID)
	}
	old.Error, old.Attempts, old.NextAttempt = f.Error, f.Attempts, f.NextAttempt
	st.failures[f.ID] = old
	return nil
}

func (q *memQueries) DeleteArtifactFailure(ctx context.Context, id int) error {
	st, unlock := q.state()
	defer unlock()
	delete(st.failures, id)
	return nil
}
