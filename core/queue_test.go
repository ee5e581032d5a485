package core

import (
	"testing"

	"github.com/signalsfoundry/watershed-simulator/ledger"
	"github.com/signalsfoundry/watershed-simulator/model"
)

func newQueuePair(t *testing.T, dstCapacity float64) (*model.Config, *tankNode, *tankNode) {
	t.Helper()
	cfg := testConfig(t)
	return cfg,
		newTankNode(t, cfg, "src", CategoryStorage, 100),
		newTankNode(t, cfg, "dst", CategoryStorage, dstCapacity)
}

func assertBalanced(t *testing.T, cfg *model.Config, r ledger.Reconciler) {
	t.Helper()
	if d := ledger.Check(cfg, r); len(d) != 0 {
		in, ds, out := r.Reconcile()
		t.Fatalf("%s unbalanced: %+v (in=%+v ds=%+v out=%+v)", r.Name(), d, in, ds, out)
	}
}

func TestQueueArcReleasesAfterOneStep(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, err := NewQueueArc(cfg, "q", src, dst, 1)
	if err != nil {
		t.Fatalf("NewQueueArc error: %v", err)
	}

	reply := q.SendPushRequest(cfg.MustNew(10, map[string]float64{"phosphate": 0.0001}), DefaultTag, false)
	if reply.Volume != 0 {
		t.Fatalf("reply = %v, want 0", reply.Volume)
	}
	if dst.tank.Storage().Volume != 0 {
		t.Fatalf("water arrived before its travel time")
	}
	entries := q.Queue()
	if len(entries) != 1 || entries[0].Remaining != 1 || entries[0].Direction != Push {
		t.Fatalf("queue = %+v, want one push entry with 1 step remaining", entries)
	}
	if f := q.Flows(); !approx(f.FlowIn, 5) {
		t.Fatalf("flow_in = %v, want average 5", f.FlowIn)
	}
	assertBalanced(t, cfg, q)

	q.EndTimestep()
	if backflow := q.UpdateQueue(Push); backflow.Volume != 0 {
		t.Fatalf("backflow = %v, want 0", backflow.Volume)
	}
	got := dst.tank.Storage()
	if !approx(got.Volume, 10) || !approx(cfg.Get(got, "phosphate"), 0.0001) {
		t.Fatalf("dst storage = %+v, want 10 / 0.0001", got)
	}
	if len(q.Queue()) != 0 || q.QueueTotal().Volume != 0 {
		t.Fatalf("queue not drained: %+v", q.Queue())
	}
	assertBalanced(t, cfg, q)
}

func TestQueueArcZeroStepsDeliversImmediately(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, _ := NewQueueArc(cfg, "q", src, dst, 0)

	if reply := q.SendPushRequest(cfg.MustNew(4, nil), DefaultTag, false); reply.Volume != 0 {
		t.Fatalf("reply = %v, want 0", reply.Volume)
	}
	if !approx(dst.tank.Storage().Volume, 4) {
		t.Fatalf("dst storage = %v, want 4", dst.tank.Storage().Volume)
	}
	assertBalanced(t, cfg, q)
}

func TestQueueArcBackflowReturnsRefusal(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, _ := NewQueueArc(cfg, "q", src, dst, 1)

	q.SendPushRequest(cfg.MustNew(10, nil), DefaultTag, false)
	q.EndTimestep()
	dst.tank.SetCapacity(4)

	backflow := q.UpdateQueue(Push)
	if !approx(backflow.Volume, 6) {
		t.Fatalf("backflow = %v, want 6", backflow.Volume)
	}
	if len(q.Queue()) != 0 {
		t.Fatalf("refused water stayed queued: %+v", q.Queue())
	}
	if f := q.Flows(); !approx(f.VqipIn.Volume, -6) || !approx(f.VqipOut.Volume, 4) {
		t.Fatalf("flows = %+v, want vqip_in -6 vqip_out 4", f)
	}
	assertBalanced(t, cfg, q)
}

func TestQueueArcWithoutBackflowKeepsRefusal(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, _ := NewQueueArc(cfg, "q", src, dst, 1, WithBackflow(false))

	q.SendPushRequest(cfg.MustNew(10, nil), DefaultTag, false)
	q.EndTimestep()
	dst.tank.SetCapacity(4)

	if backflow := q.UpdateQueue(Push); backflow.Volume != 0 {
		t.Fatalf("backflow = %v, want 0 with backflow disabled", backflow.Volume)
	}
	entries := q.Queue()
	if len(entries) != 1 || !approx(entries[0].Parcel.Volume, 6) || entries[0].Remaining != 0 {
		t.Fatalf("queue = %+v, want one ready entry of 6", entries)
	}
	assertBalanced(t, cfg, q)

	q.EndTimestep()
	dst.tank.SetCapacity(100)
	if delivered := q.Flush(); !approx(delivered.Volume, 6) {
		t.Fatalf("flush delivered %v, want 6", delivered.Volume)
	}
	if !approx(dst.tank.Storage().Volume, 10) {
		t.Fatalf("dst storage = %v, want 10", dst.tank.Storage().Volume)
	}
	assertBalanced(t, cfg, q)
}

func TestQueueArcVolumeInvariant(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 7)
	q, _ := NewQueueArc(cfg, "q", src, dst, 2)

	var entered, delivered, returned float64
	for step := 0; step < 6; step++ {
		v := cfg.MustNew(float64(step+1), nil)
		before := dst.tank.Storage().Volume
		reply := q.SendPushRequest(v, DefaultTag, false)
		// The reply carries both the clamped remainder and any backflow.
		entered += v.Volume
		returned += reply.Volume
		delivered += dst.tank.Storage().Volume - before

		got := q.QueueTotal().Volume
		if !approx(got, entered-delivered-returned) {
			t.Fatalf("step %d: queue holds %v, want %v", step, got, entered-delivered-returned)
		}
		assertBalanced(t, cfg, q)
		q.EndTimestep()
		dst.EndTimestep()
	}
}

func TestQueueArcPull(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	src.fill(cfg.MustNew(10, map[string]float64{"phosphate": 1}))
	q, _ := NewQueueArc(cfg, "q", src, dst, 1)

	if got := q.SendPullRequest(cfg.MustNew(5, nil), DefaultTag); got.Volume != 0 {
		t.Fatalf("pull delivered %v before travel time", got.Volume)
	}
	if !approx(src.tank.Storage().Volume, 5) {
		t.Fatalf("src storage = %v, want 5", src.tank.Storage().Volume)
	}
	q.EndTimestep()

	got := q.SendPullRequest(cfg.Empty(), DefaultTag)
	if !approx(got.Volume, 5) || !approx(cfg.Get(got, "phosphate"), 0.5) {
		t.Fatalf("pulled %+v, want 5 / 0.5", got)
	}
	assertBalanced(t, cfg, q)
}

func TestBucketQueueArcShiftsBuckets(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, err := NewBucketQueueArc(cfg, "bq", src, dst, 2)
	if err != nil {
		t.Fatalf("NewBucketQueueArc error: %v", err)
	}

	q.SendPushRequest(cfg.MustNew(6, nil), DefaultTag, false)
	q.EndTimestep()
	q.SendPushRequest(cfg.MustNew(4, nil), DefaultTag, false)

	entries := q.Queue()
	if len(entries) != 2 || entries[0].Remaining != 1 || entries[1].Remaining != 2 {
		t.Fatalf("queue = %+v, want buckets at 1 and 2", entries)
	}
	if dst.tank.Storage().Volume != 0 {
		t.Fatalf("delivered early: %v", dst.tank.Storage().Volume)
	}

	q.EndTimestep()
	q.UpdateQueue(Push)
	if !approx(dst.tank.Storage().Volume, 6) {
		t.Fatalf("after two steps dst = %v, want 6", dst.tank.Storage().Volume)
	}
	assertBalanced(t, cfg, q)

	q.EndTimestep()
	q.UpdateQueue(Push)
	if !approx(dst.tank.Storage().Volume, 10) || q.QueueTotal().Volume != 0 {
		t.Fatalf("after three steps dst = %v queue = %v", dst.tank.Storage().Volume, q.QueueTotal().Volume)
	}
	assertBalanced(t, cfg, q)
}

func TestBucketQueueArcDoesNotPull(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	src.fill(cfg.MustNew(10, nil))
	q, _ := NewBucketQueueArc(cfg, "bq", src, dst, 1)

	if c := q.SendPullCheck(nil, DefaultTag); c.Volume != 0 {
		t.Fatalf("pull check = %v, want 0", c.Volume)
	}
	if got := q.SendPullRequest(cfg.MustNew(5, nil), DefaultTag); got.Volume != 0 {
		t.Fatalf("pull = %v, want 0", got.Volume)
	}
	if !approx(src.tank.Storage().Volume, 10) {
		t.Fatalf("src storage changed: %v", src.tank.Storage().Volume)
	}
}

func TestQueueArcReinitEmptiesQueue(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, _ := NewQueueArc(cfg, "q", src, dst, 3)

	q.SendPushRequest(cfg.MustNew(10, nil), DefaultTag, false)
	q.Reinit()
	if len(q.Queue()) != 0 || q.Flows().FlowIn != 0 {
		t.Fatalf("Reinit left state: queue=%+v flows=%+v", q.Queue(), q.Flows())
	}
}

func TestQueueArcApplyOverrides(t *testing.T) {
	cfg, src, dst := newQueuePair(t, 100)
	q, _ := NewQueueArc(cfg, "q", src, dst, 1)

	residual, err := q.ApplyOverrides(map[string]any{
		"number_of_timesteps": "3",
		"backflow":            "false",
		"decays":              map[string]any{"phosphate": map[string]any{"constant": 0.1, "exponent": 1}},
		"capacity":            50,
	})
	if err != nil {
		t.Fatalf("ApplyOverrides error: %v", err)
	}
	if q.Timesteps() != 3 || q.Backflow() || q.Capacity() != 50 {
		t.Fatalf("timesteps=%d backflow=%v capacity=%v", q.Timesteps(), q.Backflow(), q.Capacity())
	}
	if _, ok := residual["decays"]; !ok || len(residual) != 1 {
		t.Fatalf("residual = %v, want decays on a non-decay arc", residual)
	}

	if _, err := q.ApplyOverrides(map[string]any{"number_of_timesteps": -2}); err == nil {
		t.Fatalf("expected error for negative timesteps")
	}
}
