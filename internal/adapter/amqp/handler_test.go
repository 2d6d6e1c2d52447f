package amqp

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type recordingSlicer struct {
	jobs []interfaces.SliceJobMessage
}

func (r *recordingSlicer) Start(context.Context) error    { return nil }
func (r *recordingSlicer) Shutdown(context.Context) error { return nil }
func (r *recordingSlicer) ProcessJob(_ context.Context, msg interfaces.SliceJobMessage) error {
	r.jobs = append(r.jobs, msg)
	return nil
}

func TestHandleSliceJob(t *testing.T) {
	svc := &recordingSlicer{}
	h := NewSliceJobHandler(svc, logger.Nop())

	err := h.HandleSliceJob(context.Background(), []byte(`{"order_id":"o-1","file_key":"3d-files/a.stl","file_type":"stl","quantity":2}`))

	require.NoError(t, err)
	require.Len(t, svc.jobs, 1)
	assert.Equal(t, "o-1", svc.jobs[0].OrderID)
	assert.Equal(t, 2, svc.jobs[0].Quantity)
}

func TestHandleSliceJobRejectsBadMessages(t *testing.T) {
	svc := &recordingSlicer{}
	h := NewSliceJobHandler(svc, logger.Nop())

	assert.Error(t, h.HandleSliceJob(context.Background(), []byte(`{not json`)))
	assert.Error(t, h.HandleSliceJob(context.Background(), []byte(`{"order_id":"o-1"}`)))
	assert.Empty(t, svc.jobs)
}

func TestHandleNotification(t *testing.T) {
	var out bytes.Buffer
	h := NewNotificationHandler(logger.Nop())
	h.out = &out

	require.NoError(t, h.HandleNotification(context.Background(),
		[]byte(`{"order_id":"o-1","axis":"slice","old_value":"slicing","new_value":"error","error":"engine timed out"}`)))
	require.NoError(t, h.HandleNotification(context.Background(),
		[]byte(`{"order_id":"o-1","axis":"status","old_value":"Pending","new_value":"Reviewing","changed_by":"admin-1"}`)))

	assert.Contains(t, out.String(), "Slicing moved from 'slicing' to 'error', error: engine timed out")
	assert.Contains(t, out.String(), "Status changed from 'Pending' to 'Reviewing' by admin-1")
}
