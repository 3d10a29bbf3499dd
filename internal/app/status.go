package app

import (
	"time"

	"github.com/bchoi12/birdtown-sub001/internal/netcode"
	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
)

// StatusUnitID is the aggregator id of the server status unit.
const StatusUnitID wire.Key = 1

const (
	statusKeyUptime wire.Key = iota + 1
	statusKeyPeers
	statusKeyTickRate
	statusKeyStarted
)

// statusUnit replicates server-wide facts every peer can display.
type statusUnit struct {
	fields *netcode.FieldSet

	started  time.Time
	uptime   int64
	peers    int64
	tickRate int64
}

func newStatusUnit(deps netcode.Deps, policy netcode.Policy, started time.Time, tickRate int) (*statusUnit, error) {
	u := &statusUnit{
		fields:   netcode.NewFieldSet(deps),
		started:  started,
		tickRate: int64(tickRate),
	}
	if _, err := netcode.Register(u.fields, statusKeyUptime, netcode.Int, netcode.Accessor[int64]{
		Get: func() int64 { return u.uptime },
	}, policy); err != nil {
		return nil, err
	}
	if _, err := netcode.Register(u.fields, statusKeyPeers, netcode.Int, netcode.Accessor[int64]{
		Get: func() int64 { return u.peers },
	}, policy); err != nil {
		return nil, err
	}

	static := policy
	static.Optional = true
	if _, err := netcode.Register(u.fields, statusKeyTickRate, netcode.Int, netcode.Accessor[int64]{
		Get: func() int64 { return u.tickRate },
	}, static); err != nil {
		return nil, err
	}
	if _, err := netcode.Register(u.fields, statusKeyStarted, netcode.String, netcode.Accessor[string]{
		Get: func() string { return u.started.UTC().Format(time.RFC3339) },
	}, static); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *statusUnit) Fields() *netcode.FieldSet { return u.fields }

func (u *statusUnit) refresh(now time.Time, peers int) {
	u.uptime = int64(now.Sub(u.started) / time.Second)
	u.peers = int64(peers)
}
