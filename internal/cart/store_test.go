package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soko-orders/internal/domain"
)

var (
	mamaOtis = domain.Vendor{ID: "v-otis", Name: "Mama Otis Kitchen"}
	kwaMaish = domain.Vendor{ID: "v-maish", Name: "Kwa Maish"}

	pilau   = domain.MenuItem{ID: "m-pilau", Name: "Pilau", UnitPrice: 350}
	chapati = domain.MenuItem{ID: "m-chapo", Name: "Chapati Beans", UnitPrice: 200}
	samosa  = domain.MenuItem{ID: "m-samosa", Name: "Samosa", UnitPrice: 50}
)

// fakeRepo records saves and can be scripted to fail.
type fakeRepo struct {
	saved   []domain.Cart
	saveErr error

	loadCart  domain.Cart
	loadFound bool
	loadErr   error
}

func (f *fakeRepo) Load(ctx context.Context) (domain.Cart, bool, error) {
	return f.loadCart, f.loadFound, f.loadErr
}

func (f *fakeRepo) Save(ctx context.Context, c domain.Cart) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, c)
	return nil
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(context.Background(), nil, nil)
}

func TestAddItemMergesQuantity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(350), m.Cart.Total)
	require.Len(t, m.Cart.Items, 1)
	assert.Equal(t, 1, m.Cart.Items[0].Qty)

	m, err = s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	require.Len(t, m.Cart.Items, 1, "same item must merge, not duplicate")
	assert.Equal(t, 2, m.Cart.Items[0].Qty)
	assert.Equal(t, domain.Money(700), m.Cart.Total)
}

func TestAddItemRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddItem(ctx, domain.Vendor{}, pilau)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	_, err = s.AddItem(ctx, mamaOtis, domain.MenuItem{ID: "", Name: "ghost"})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	_, err = s.AddItem(ctx, mamaOtis, domain.MenuItem{ID: "m-x", Name: "x", UnitPrice: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	assert.True(t, s.Snapshot().IsEmpty(), "rejected add must not mutate")
}

func TestVendorConflictLeavesCartUntouched(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.AddItem(ctx, kwaMaish, chapati)
	vc, ok := domain.IsVendorConflict(err)
	require.True(t, ok, "expected vendor conflict, got %v", err)
	assert.Equal(t, mamaOtis, vc.Current)
	assert.Equal(t, kwaMaish, vc.Requested)

	assert.Equal(t, before, s.Snapshot(), "conflict must not mutate the cart")
}

func TestReplaceCartResolvesConflict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	require.Equal(t, domain.Money(700), s.Snapshot().Total)

	_, err = s.AddItem(ctx, kwaMaish, chapati)
	_, ok := domain.IsVendorConflict(err)
	require.True(t, ok)

	m, err := s.ReplaceCart(ctx, kwaMaish, chapati)
	require.NoError(t, err)
	assert.Equal(t, kwaMaish.ID, m.Cart.VendorID)
	assert.Equal(t, kwaMaish.Name, m.Cart.VendorName)
	require.Len(t, m.Cart.Items, 1)
	assert.Equal(t, domain.Money(200), m.Cart.Total)
}

func TestRemoveItemDecrementsAndResets(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)

	m, err := s.RemoveItem(ctx, pilau.ID)
	require.NoError(t, err)
	require.Len(t, m.Cart.Items, 1)
	assert.Equal(t, 1, m.Cart.Items[0].Qty)
	assert.Equal(t, domain.Money(350), m.Cart.Total)

	m, err = s.RemoveItem(ctx, pilau.ID)
	require.NoError(t, err)
	assert.True(t, m.Cart.IsEmpty())
	assert.Empty(t, m.Cart.VendorID, "vendor binding must reset with the last item")
	assert.Zero(t, m.Cart.Total)

	// Unknown item is a no-op.
	m, err = s.RemoveItem(ctx, "m-nope")
	require.NoError(t, err)
	assert.True(t, m.Cart.IsEmpty())
}

func TestRemoveLineDropsWholeLine(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.AddItem(ctx, mamaOtis, pilau)
		require.NoError(t, err)
	}
	_, err := s.AddItem(ctx, mamaOtis, samosa)
	require.NoError(t, err)

	m, err := s.RemoveLine(ctx, pilau.ID)
	require.NoError(t, err)
	require.Len(t, m.Cart.Items, 1)
	assert.Equal(t, samosa.ID, m.Cart.Items[0].ItemID)
	assert.Equal(t, domain.Money(50), m.Cart.Total)
}

func TestSetQuantity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)

	m, err := s.SetQuantity(ctx, pilau.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Cart.Items[0].Qty)
	assert.Equal(t, domain.Money(1400), m.Cart.Total)

	_, err = s.SetQuantity(ctx, pilau.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, 4, s.Snapshot().Items[0].Qty, "rejected quantity must not mutate")

	m, err = s.SetQuantity(ctx, pilau.ID, 0)
	require.NoError(t, err)
	assert.True(t, m.Cart.IsEmpty())
	assert.Empty(t, m.Cart.VendorID)
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)

	m, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, m.Cart.IsEmpty())

	m, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, m.Cart.IsEmpty())
	assert.Empty(t, m.Cart.VendorID)
	assert.Zero(t, m.Cart.Total)
}

func TestTotalAlwaysMatchesLines(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	steps := []func() (Mutation, error){
		func() (Mutation, error) { return s.AddItem(ctx, mamaOtis, pilau) },
		func() (Mutation, error) { return s.AddItem(ctx, mamaOtis, samosa) },
		func() (Mutation, error) { return s.AddItem(ctx, mamaOtis, pilau) },
		func() (Mutation, error) { return s.SetQuantity(ctx, samosa.ID, 5) },
		func() (Mutation, error) { return s.RemoveItem(ctx, pilau.ID) },
		func() (Mutation, error) { return s.RemoveLine(ctx, samosa.ID) },
	}
	for i, step := range steps {
		m, err := step()
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, m.Cart.ComputeTotal(), m.Cart.Total, "step %d", i)
	}
}

func TestPersistFailureIsWarningNotError(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{saveErr: errors.New("disk full")}
	s := New(ctx, repo, nil)

	m, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err, "mutation must succeed despite persistence failure")
	assert.Error(t, m.PersistErr)
	assert.Equal(t, domain.Money(350), m.Cart.Total)
	assert.Equal(t, domain.Money(350), s.Snapshot().Total, "in-memory state keeps the mutation")
}

func TestEveryMutationPersists(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	s := New(ctx, repo, nil)

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	require.NoError(t, err)
	_, err = s.RemoveItem(ctx, pilau.ID)
	require.NoError(t, err)
	_, err = s.Clear(ctx)
	require.NoError(t, err)

	require.Len(t, repo.saved, 3)
	assert.Equal(t, domain.Money(350), repo.saved[0].Total)
	assert.True(t, repo.saved[1].IsEmpty())
}

func TestNewRehydratesValidCart(t *testing.T) {
	ctx := context.Background()
	persisted := domain.Cart{
		VendorID:   mamaOtis.ID,
		VendorName: mamaOtis.Name,
		Items:      []domain.CartLine{{ItemID: pilau.ID, Name: pilau.Name, UnitPrice: 350, Qty: 2}},
		Total:      700,
	}
	s := New(ctx, &fakeRepo{loadCart: persisted, loadFound: true}, nil)
	assert.Equal(t, persisted, s.Snapshot())
}

func TestNewDiscardsCorruptCart(t *testing.T) {
	ctx := context.Background()
	// Total disagrees with the lines.
	corrupt := domain.Cart{
		VendorID:   mamaOtis.ID,
		VendorName: mamaOtis.Name,
		Items:      []domain.CartLine{{ItemID: pilau.ID, Name: pilau.Name, UnitPrice: 350, Qty: 2}},
		Total:      100,
	}
	s := New(ctx, &fakeRepo{loadCart: corrupt, loadFound: true}, nil)
	assert.True(t, s.Snapshot().IsEmpty())

	// Items without a vendor binding.
	orphan := domain.Cart{
		Items: []domain.CartLine{{ItemID: pilau.ID, Name: pilau.Name, UnitPrice: 350, Qty: 1}},
		Total: 350,
	}
	s = New(ctx, &fakeRepo{loadCart: orphan, loadFound: true}, nil)
	assert.True(t, s.Snapshot().IsEmpty())
}

func TestNewSurvivesLoadError(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, &fakeRepo{loadErr: errors.New("locked")}, nil)
	assert.True(t, s.Snapshot().IsEmpty())

	_, err := s.AddItem(ctx, mamaOtis, pilau)
	assert.NoError(t, err, "store must stay usable after a failed load")
}
