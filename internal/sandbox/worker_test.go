package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/faas"
)

type fakeStorage struct {
	data map[string][]byte
}

func newFakeStorage() *fakeStorage { return &fakeStorage{data: map[string][]byte{}} }

func (f *fakeStorage) key(owner, fn, k string) string { return owner + "/" + fn + "/" + k }

func (f *fakeStorage) Get(_ context.Context, owner, fn, k string) ([]byte, error) {
	return f.data[f.key(owner, fn, k)], nil
}
func (f *fakeStorage) Set(_ context.Context, owner, fn, k string, v []byte, _ int64) error {
	f.data[f.key(owner, fn, k)] = v
	return nil
}
func (f *fakeStorage) Delete(_ context.Context, owner, fn, k string) error {
	delete(f.data, f.key(owner, fn, k))
	return nil
}
func (f *fakeStorage) List(_ context.Context, owner, fn, prefix string, limit int) ([]string, error) {
	return nil, nil
}

func testFunction(source string, perms ...faas.Permission) *faas.Function {
	return &faas.Function{
		ID:      "fn-1",
		OwnerID: "owner-1",
		Version: 1,
		Source:  source,
		Limits: faas.ResourceLimits{
			WallTimeMS:         2000,
			CPUMillisPerInvoke: 0, // disable CPU governance sampling in tests
			MaxHostCallsByKind: map[string]int{},
		},
		Perms: faas.NewPermissionSet(perms...),
	}
}

func TestWorkerExecuteReturnsHandlerResult(t *testing.T) {
	caps := Capabilities{Storage: newFakeStorage()}
	w := NewWorker(0, caps)

	fn := testFunction(`module.exports = function(event, context) { return {doubled: event.n * 2}; };`)
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Fields: map[string]interface{}{"n": 21}}, 2*time.Second)
	require.NoError(t, err)

	result, _, err := w.Execute(context.Background(), task, fn)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, float64(42), decoded["doubled"])
}

func TestWorkerExecuteStorageRoundTrip(t *testing.T) {
	caps := Capabilities{Storage: newFakeStorage()}
	w := NewWorker(0, caps)

	fn := testFunction(`
module.exports = function(event, context) {
  context.storage.set("k", event.value, 0);
  return {stored: context.storage.get("k")};
};`, faas.PermStorageRead, faas.PermStorageWrite)
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Fields: map[string]interface{}{"value": "hello"}}, 2*time.Second)
	require.NoError(t, err)

	result, _, err := w.Execute(context.Background(), task, fn)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, "hello", decoded["stored"])
}

func TestWorkerExecutePermissionDenied(t *testing.T) {
	caps := Capabilities{Storage: newFakeStorage()}
	w := NewWorker(0, caps)

	fn := testFunction(`module.exports = function(event, context) { context.storage.set("k", "v", 0); return {}; };`)
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Fields: map[string]interface{}{}}, 2*time.Second)
	require.NoError(t, err)

	_, logTail, err := w.Execute(context.Background(), task, fn)
	require.Error(t, err)
	_ = logTail
}

func TestWorkerExecuteWallTimeTimeout(t *testing.T) {
	caps := Capabilities{Storage: newFakeStorage()}
	w := NewWorker(0, caps)

	fn := testFunction(`module.exports = function(event, context) { while (true) {} };`)
	fn.Limits.WallTimeMS = 50
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Fields: map[string]interface{}{}}, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err = w.Execute(ctx, task, fn)
	require.Error(t, err)
}

func TestWorkerExecuteMissingDefaultExport(t *testing.T) {
	caps := Capabilities{Storage: newFakeStorage()}
	w := NewWorker(0, caps)

	fn := testFunction(`var x = 1;`)
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Fields: map[string]interface{}{}}, 2*time.Second)
	require.NoError(t, err)

	_, _, err = w.Execute(context.Background(), task, fn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not export a default function")
}

func TestWorkerExecuteDefaultInteropExport(t *testing.T) {
	caps := Capabilities{Storage: newFakeStorage()}
	w := NewWorker(0, caps)

	fn := testFunction(`exports.default = function(event, context) { return {doubled: event.n * 2}; };`)
	task, err := faas.NewTask(fn.ID, faas.TriggerInstance{Fields: map[string]interface{}{"n": 5}}, 2*time.Second)
	require.NoError(t, err)

	result, _, err := w.Execute(context.Background(), task, fn)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, float64(10), decoded["doubled"])
}
