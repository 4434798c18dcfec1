package swarm

import (
	"context"
	"testing"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
	"curvewarden/internal/rpcclient"
)

type fakeChainReader struct {
	sigs []rpcclient.SignatureRecord
	txs  map[string]*rpcclient.ParsedTransaction
}

func (f *fakeChainReader) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpcclient.SignatureRecord, error) {
	return f.sigs, nil
}

func (f *fakeChainReader) GetParsedTransaction(ctx context.Context, signature string) (*rpcclient.ParsedTransaction, error) {
	return f.txs[signature], nil
}

type fakeWalletGraph struct {
	edges int
}

func (f *fakeWalletGraph) AddEdge(ctx context.Context, from, to string, edgeType domain.WalletEdgeType) error {
	f.edges++
	return nil
}

type fakeDeployerScore struct {
	score float64
}

func (f *fakeDeployerScore) RecordLaunch(ctx context.Context, deployer, mint string, connectedWallets []string) domain.DeployerProfile {
	return domain.DeployerProfile{Address: deployer, Score: f.score}
}

type fakeSignalBus struct {
	published int
}

func (f *fakeSignalBus) Publish(ctx context.Context, channel, sigType string, data map[string]interface{}) error {
	f.published++
	return nil
}

func newScoutForTest(chain ScoutChainReader, graph ScoutWalletGraph, deployerScore ScoutDeployerScore, bus ScoutSignalBus, mb *agent.Mailbox) *Scout {
	return &Scout{
		chain:         chain,
		graph:         graph,
		deployerScore: deployerScore,
		bus:           bus,
		mailbox:       mb,
		programID:     "launchpad-program",
		seen:          make(map[string]bool),
	}
}

func TestScoutForwardsLaunchAboveScoreFloor(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleAnalyst, "new-launch")

	chain := &fakeChainReader{
		sigs: []rpcclient.SignatureRecord{{Signature: "sig1"}},
		txs: map[string]*rpcclient.ParsedTransaction{
			"sig1": {FeePayer: "deployer1", PostTokenMints: []string{"mint1"}, AccountKeys: []string{"deployer1", "mint1", "other1"}},
		},
	}
	graph := &fakeWalletGraph{}
	deployerScore := &fakeDeployerScore{score: 50}
	bus := &fakeSignalBus{}

	s := newScoutForTest(chain, graph, deployerScore, bus, mb)
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case msg := <-rx:
		sig, ok := msg.(ScoutSignal)
		if !ok || sig.Mint != "mint1" || sig.Deployer != "deployer1" {
			t.Fatalf("got %+v", msg)
		}
	default:
		t.Fatal("expected a forwarded scout signal")
	}
	if graph.edges != 1 {
		t.Fatalf("expected one wallet graph edge, got %d", graph.edges)
	}
	if bus.published != 1 {
		t.Fatalf("expected one signal bus publish, got %d", bus.published)
	}
}

func TestScoutDropsLaunchesBelowScoreFloor(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleAnalyst, "new-launch")

	chain := &fakeChainReader{
		sigs: []rpcclient.SignatureRecord{{Signature: "sig1"}},
		txs: map[string]*rpcclient.ParsedTransaction{
			"sig1": {FeePayer: "deployer1", PostTokenMints: []string{"mint1"}, AccountKeys: []string{"deployer1", "mint1"}},
		},
	}
	s := newScoutForTest(chain, &fakeWalletGraph{}, &fakeDeployerScore{score: 5}, &fakeSignalBus{}, mb)
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case msg := <-rx:
		t.Fatalf("expected no forwarded signal, got %+v", msg)
	default:
	}
}

func TestScoutSkipsAlreadySeenSignatures(t *testing.T) {
	mb := agent.NewMailbox()
	chain := &fakeChainReader{
		sigs: []rpcclient.SignatureRecord{{Signature: "sig1"}},
		txs: map[string]*rpcclient.ParsedTransaction{
			"sig1": {FeePayer: "deployer1", PostTokenMints: []string{"mint1"}},
		},
	}
	graph := &fakeWalletGraph{}
	s := newScoutForTest(chain, graph, &fakeDeployerScore{score: 50}, &fakeSignalBus{}, mb)

	_ = s.tick(context.Background())
	_ = s.tick(context.Background())

	if graph.edges != 1 {
		t.Fatalf("expected the second tick to skip the already-seen signature, got %d edges", graph.edges)
	}
}
