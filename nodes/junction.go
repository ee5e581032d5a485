package nodes

import (
	"math"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// Junction stores nothing. A push is split across its outgoing links and a
// pull is drawn from its incoming links, both with the request's tag.
type Junction struct {
	*core.Node
}

// NewJunction builds a pass-through node.
func NewJunction(cfg *model.Config, name string) (*Junction, error) {
	n, err := core.NewNode(cfg, name, core.CategoryJunction)
	if err != nil {
		return nil, err
	}
	return &Junction{Node: n}, nil
}

// PushCheck is what the downstream links could take now.
func (j *Junction) PushCheck(v *model.Parcel, tag string) model.Parcel {
	cfg := j.Config()
	avail := j.GetConnected(core.Push, nil, tag).Avail
	if v == nil {
		return cfg.VChange(cfg.Empty(), avail)
	}
	return cfg.VChange(*v, math.Min(v.Volume, avail))
}

// PushSet forwards v downstream and returns what no link took.
func (j *Junction) PushSet(v model.Parcel, tag string) model.Parcel {
	return j.PushDistributed(v, nil, tag)
}

// PullCheck is what the upstream links could supply now.
func (j *Junction) PullCheck(v *model.Parcel, tag string) model.Parcel {
	cfg := j.Config()
	total := cfg.Empty()
	for _, l := range j.InArcs() {
		total = cfg.Sum(total, l.SendPullCheck(nil, tag))
	}
	if v != nil && v.Volume < total.Volume {
		return cfg.VChange(total, v.Volume)
	}
	return total
}

// PullSet draws up to v.Volume from upstream.
func (j *Junction) PullSet(v model.Parcel, tag string) model.Parcel {
	return j.PullDistributed(v, nil, tag)
}
