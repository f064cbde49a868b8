package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/devlongs/mev-searcher/internal/state"
)

type prestateConfig struct {
	DiffMode bool `json:"diffMode"`
}

type traceConfig struct {
	Tracer       string         `json:"tracer"`
	TracerConfig prestateConfig `json:"tracerConfig"`
}

type stateDiff struct {
	Pre  state.GethStateUpdate `json:"pre"`
	Post state.GethStateUpdate `json:"post"`
}

type txDiffTrace struct {
	TxHash common.Hash `json:"txHash"`
	Result *stateDiff  `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// postStates turns diff mode traces into applicable updates. The tracer omits
// cleared slots and deleted accounts from the post state, so both are
// restored from the pre state as zero values.
func postStates(traces []txDiffTrace) ([]state.GethStateUpdate, error) {
	updates := make([]state.GethStateUpdate, 0, len(traces))
	for i, tr := range traces {
		if tr.Error != "" {
			return nil, fmt.Errorf("trace of tx %d (%s): %s", i, tr.TxHash.Hex(), tr.Error)
		}
		if tr.Result == nil {
			continue
		}

		update := make(state.GethStateUpdate, len(tr.Result.Post))
		for addr, post := range tr.Result.Post {
			update[addr] = post
		}
		for addr, pre := range tr.Result.Pre {
			post, ok := update[addr]
			if !ok {
				update[addr] = deletedAccount(pre)
				continue
			}
			for slot := range pre.Storage {
				if _, ok := post.Storage[slot]; ok {
					continue
				}
				if post.Storage == nil {
					post.Storage = make(map[common.Hash]common.Hash)
				}
				post.Storage[slot] = common.Hash{}
			}
			update[addr] = post
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func deletedAccount(pre state.GethAccountState) state.GethAccountState {
	var nonce uint64
	acc := state.GethAccountState{
		Balance: new(hexutil.Big),
		Nonce:   &nonce,
		Code:    hexutil.Bytes{},
	}
	if len(pre.Storage) > 0 {
		acc.Storage = make(map[common.Hash]common.Hash, len(pre.Storage))
		for slot := range pre.Storage {
			acc.Storage[slot] = common.Hash{}
		}
	}
	return acc
}
