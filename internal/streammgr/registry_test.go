package streammgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
)

func TestRegistryInsertRemoveCounts(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, Counts{}, r.counts())

	dl := model.NewStreamRecord(1, model.Download, model.KindSaturation)
	ul := model.NewStreamRecord(2, model.Upload, model.KindSaturation)
	r.insert(dl)
	r.insert(ul)

	c := r.counts()
	assert.Equal(t, 1, c.Download)
	assert.Equal(t, 1, c.Upload)
	assert.Equal(t, 2, c.Total)

	rec, ok := r.remove(model.Download, 1)
	require.True(t, ok)
	assert.Equal(t, dl, rec)

	c = r.counts()
	assert.Equal(t, 0, c.Download)
	assert.Equal(t, 1, c.Total)
}

func TestRegistryRemoveMissingReturnsFalse(t *testing.T) {
	r := newRegistry()
	_, ok := r.remove(model.Download, 999)
	assert.False(t, ok)
}

func TestRegistryIDsSnapshot(t *testing.T) {
	r := newRegistry()
	r.insert(model.NewStreamRecord(1, model.Download, model.KindWarmup))
	r.insert(model.NewStreamRecord(2, model.Download, model.KindWarmup))
	ids := r.ids(model.Download)
	assert.ElementsMatch(t, []uint64{1, 2}, ids)
	assert.Empty(t, r.ids(model.Upload))
}

func TestRegistryClearDropsEverythingAndReturnsRecords(t *testing.T) {
	r := newRegistry()
	r.insert(model.NewStreamRecord(1, model.Download, model.KindWarmup))
	r.insert(model.NewStreamRecord(2, model.Upload, model.KindWarmup))

	dropped := r.clear()
	assert.Len(t, dropped, 2)
	assert.Equal(t, Counts{}, r.counts())
}

func TestRegistryAllReturnsEveryLiveRecordAcrossDirections(t *testing.T) {
	r := newRegistry()
	r.insert(model.NewStreamRecord(1, model.Download, model.KindWarmup))
	r.insert(model.NewStreamRecord(2, model.Upload, model.KindWarmup))
	all := r.all()
	assert.Len(t, all, 2)
}
