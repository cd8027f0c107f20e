package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	events  []Kind
	err     error
	delived int
}

func (f *fakeChannel) Events() []Kind { return f.events }
func (f *fakeChannel) Deliver(ctx context.Context, event Kind, tctx Context) error {
	f.delived++
	return f.err
}

func TestDispatcher_DeliversToMatchingEventChannels(t *testing.T) {
	trigger := &fakeChannel{events: []Kind{EventTrigger}}
	resolve := &fakeChannel{events: []Kind{EventResolve}}
	d := NewDispatcher(map[string]Channel{"trigger-ch": trigger, "resolve-ch": resolve}, nil)

	errs := d.Dispatch(context.Background(), []string{"trigger-ch", "resolve-ch"}, EventTrigger, sampleContext())
	require.Empty(t, errs)
	require.Equal(t, 1, trigger.delived)
	require.Equal(t, 0, resolve.delived)
}

func TestDispatcher_UnknownChannelIsError(t *testing.T) {
	d := NewDispatcher(map[string]Channel{}, nil)
	errs := d.Dispatch(context.Background(), []string{"ghost"}, EventTrigger, sampleContext())
	require.Len(t, errs, 1)
}

func TestDispatcher_FailedDeliveryIsCollectedNotFatal(t *testing.T) {
	failing := &fakeChannel{events: []Kind{EventTrigger}, err: errors.New("boom")}
	ok := &fakeChannel{events: []Kind{EventTrigger}}
	d := NewDispatcher(map[string]Channel{"failing": failing, "ok": ok}, nil)

	errs := d.Dispatch(context.Background(), []string{"failing", "ok"}, EventTrigger, sampleContext())
	require.Len(t, errs, 1)
	require.Equal(t, 1, ok.delived)
}
