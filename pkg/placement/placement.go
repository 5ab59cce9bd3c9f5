// Package placement chooses target nodes for new file uploads.
package placement

import (
	"sort"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Strategy selects replicationFactor target nodes out of an active-node
// snapshot. The snapshot is read-only: selection does not reserve capacity,
// so concurrent selections may overlap on the same nodes and are corrected
// by later heartbeats.
type Strategy interface {
	SelectNodes(active []*types.StorageNode, replicationFactor int, fileSize, buffer int64) ([]*types.StorageNode, error)
}

// deficitNodeCount is how many candidates a capacity failure describes.
const deficitNodeCount = 5

// MostAvailable is the default strategy: rank active nodes by descending
// self-reported free space and take the top replicationFactor. Greedy
// max-available placement concentrates load on big nodes; that is a known
// trade-off of the default, not a defect.
type MostAvailable struct{}

// SelectNodes implements Strategy.
func (MostAvailable) SelectNodes(active []*types.StorageNode, replicationFactor int, fileSize, buffer int64) ([]*types.StorageNode, error) {
	if len(active) < replicationFactor {
		return nil, &types.ActiveNodesError{
			Required:  replicationFactor,
			Available: len(active),
		}
	}

	ranked := make([]*types.StorageNode, len(active))
	copy(ranked, active)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AvailableSpace > ranked[j].AvailableSpace
	})

	required := fileSize + buffer
	var qualified []*types.StorageNode
	for _, node := range ranked {
		if node.AvailableSpace >= required {
			qualified = append(qualified, node)
		}
	}

	if len(qualified) < replicationFactor {
		return nil, &types.CapacityError{
			RequiredNodes:  replicationFactor,
			NodesWithSpace: len(qualified),
			FileSize:       fileSize,
			Buffer:         buffer,
			NodesInfo:      deficitInfo(ranked, fileSize, buffer),
		}
	}

	return qualified[:replicationFactor], nil
}

// deficitInfo reports the capacity shortfall for the top candidates by
// available space, for actionable error responses.
func deficitInfo(ranked []*types.StorageNode, fileSize, buffer int64) []types.NodeSpaceInfo {
	const mb = 1024 * 1024
	required := fileSize + buffer

	n := len(ranked)
	if n > deficitNodeCount {
		n = deficitNodeCount
	}
	info := make([]types.NodeSpaceInfo, 0, n)
	for _, node := range ranked[:n] {
		deficit := required - node.AvailableSpace
		if deficit < 0 {
			deficit = 0
		}
		info = append(info, types.NodeSpaceInfo{
			NodeID:           node.NodeID,
			AvailableSpaceMB: float64(node.AvailableSpace) / mb,
			RequiredSpaceMB:  float64(required) / mb,
			FileSizeMB:       float64(fileSize) / mb,
			BufferMB:         float64(buffer) / mb,
			DeficitMB:        float64(deficit) / mb,
		})
	}
	return info
}
