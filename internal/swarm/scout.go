// Package swarm implements the six cooperative agents that make up the
// optional swarm mode: scout, analyst, strategist, sentinel, executor-agent,
// and memory, wired together over internal/agent's mailbox and, cross-node,
// over internal/signalbus.
package swarm

import (
	"context"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
	"curvewarden/internal/rpcclient"
)

const (
	scoutTickInterval      = 3 * time.Second
	scoutFetchLimit        = 20
	scoutSeenCap           = 4096
	scoutMinScoreToForward = 20.0
	scoutMaxConnectedWallets = 5
)

// ScoutChainReader is the RPC surface the scout polls for new launches.
type ScoutChainReader interface {
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpcclient.SignatureRecord, error)
	GetParsedTransaction(ctx context.Context, signature string) (*rpcclient.ParsedTransaction, error)
}

// ScoutWalletGraph is the WalletGraph capability the scout writes through.
type ScoutWalletGraph interface {
	AddEdge(ctx context.Context, from, to string, edgeType domain.WalletEdgeType) error
}

// ScoutDeployerScore is the DeployerScoreEngine capability the scout writes
// through.
type ScoutDeployerScore interface {
	RecordLaunch(ctx context.Context, deployer, mint string, connectedWallets []string) domain.DeployerProfile
}

// ScoutSignalBus is the cross-node Signal Bus capability the scout
// publishes new launches to.
type ScoutSignalBus interface {
	Publish(ctx context.Context, channel, sigType string, data map[string]interface{}) error
}

// ScoutSignal is what the scout hands the analyst over the mailbox.
type ScoutSignal struct {
	Mint      string
	Deployer  string
	Profile   domain.DeployerProfile
	Signature string
}

// Scout polls the launchpad program's recent signature history, resolves
// the deployer and mint of every novel transaction, records it against the
// wallet graph and deployer reputation store, and forwards launches that
// clear the reputation floor to the analyst.
type Scout struct {
	chain         ScoutChainReader
	graph         ScoutWalletGraph
	deployerScore ScoutDeployerScore
	bus           ScoutSignalBus
	mailbox       *agent.Mailbox
	programID     string

	seen      map[string]bool
	seenOrder []string
}

// NewScout wires a Scout and returns the agent.Agent driving its tick loop.
func NewScout(chain ScoutChainReader, graph ScoutWalletGraph, deployerScore ScoutDeployerScore, bus ScoutSignalBus, mailbox *agent.Mailbox, launchpadProgramID string) *agent.Agent {
	s := &Scout{
		chain:         chain,
		graph:         graph,
		deployerScore: deployerScore,
		bus:           bus,
		mailbox:       mailbox,
		programID:     launchpadProgramID,
		seen:          make(map[string]bool),
	}
	return agent.New(agent.RoleScout, scoutTickInterval, agent.Hooks{Tick: s.tick}, mailbox)
}

func (s *Scout) tick(ctx context.Context) error {
	sigs, err := s.chain.GetSignaturesForAddress(ctx, s.programID, scoutFetchLimit)
	if err != nil {
		return err
	}
	for _, rec := range sigs {
		if rec.Err || s.markSeen(rec.Signature) {
			continue
		}
		s.processSignature(ctx, rec.Signature)
	}
	return nil
}

// markSeen reports whether signature was already seen, recording it
// otherwise. seenOrder evicts the oldest entry past scoutSeenCap so the
// set stays bounded across a long-running process.
func (s *Scout) markSeen(signature string) bool {
	if s.seen[signature] {
		return true
	}
	s.seen[signature] = true
	s.seenOrder = append(s.seenOrder, signature)
	if len(s.seenOrder) > scoutSeenCap {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
	return false
}

func (s *Scout) processSignature(ctx context.Context, signature string) {
	log := logging.WithComponent("scout")

	tx, err := s.chain.GetParsedTransaction(ctx, signature)
	if err != nil || tx == nil {
		if err != nil {
			log.Warn("fetch parsed transaction failed", "signature", signature, "error", err)
		}
		return
	}
	if len(tx.PostTokenMints) == 0 || tx.FeePayer == "" {
		return
	}
	mint := tx.PostTokenMints[0]
	deployer := tx.FeePayer

	connected := connectedWallets(tx, deployer, mint)
	if s.graph != nil {
		if err := s.graph.AddEdge(ctx, deployer, mint, domain.EdgeDeployedFrom); err != nil {
			log.Warn("wallet graph edge write failed", "error", err)
		}
	}

	profile := s.deployerScore.RecordLaunch(ctx, deployer, mint, connected)

	if s.bus != nil {
		if err := s.bus.Publish(ctx, "new-launch", "token-launch", map[string]interface{}{
			"mint": mint, "deployer": deployer, "score": profile.Score, "signature": signature,
		}); err != nil {
			log.Warn("signal bus publish failed", "error", err)
		}
	}

	if profile.Score < scoutMinScoreToForward {
		return
	}
	s.mailbox.Send(agent.RoleAnalyst, "new-launch", ScoutSignal{
		Mint: mint, Deployer: deployer, Profile: profile, Signature: signature,
	})
	log.Info("forwarded launch to analyst", "mint", mint, "deployer", deployer, "score", profile.Score)
}

// connectedWallets extracts the other account keys touched by the launch
// transaction as candidate connected wallets, excluding the deployer and
// mint themselves and capped to keep the deployer profile bounded.
func connectedWallets(tx *rpcclient.ParsedTransaction, deployer, mint string) []string {
	var out []string
	for _, k := range tx.AccountKeys {
		if k == deployer || k == mint {
			continue
		}
		out = append(out, k)
		if len(out) >= scoutMaxConnectedWallets {
			break
		}
	}
	return out
}
