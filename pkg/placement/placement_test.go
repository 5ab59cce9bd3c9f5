package placement

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

func node(id string, space int64) *types.StorageNode {
	return &types.StorageNode{
		NodeID:         id,
		Address:        "http://" + id,
		Status:         types.NodeActive,
		AvailableSpace: space,
	}
}

func TestSelectNodes(t *testing.T) {
	strategy := MostAvailable{}

	t.Run("picks most available first", func(t *testing.T) {
		active := []*types.StorageNode{
			node("small", 10),
			node("big", 1000),
			node("medium", 100),
		}
		selected, err := strategy.SelectNodes(active, 2, 5, 0)
		require.NoError(t, err)
		require.Len(t, selected, 2)
		assert.Equal(t, "big", selected[0].NodeID)
		assert.Equal(t, "medium", selected[1].NodeID)
	})

	t.Run("not enough active nodes", func(t *testing.T) {
		active := []*types.StorageNode{node("only", 1000)}
		_, err := strategy.SelectNodes(active, 2, 5, 0)

		var nodesErr *types.ActiveNodesError
		require.True(t, errors.As(err, &nodesErr))
		assert.Equal(t, 2, nodesErr.Required)
		assert.Equal(t, 1, nodesErr.Available)
	})

	t.Run("not enough capacity", func(t *testing.T) {
		mb := int64(1024 * 1024)
		active := []*types.StorageNode{
			node("n1", 1*mb),
			node("n2", 1*mb),
		}
		_, err := strategy.SelectNodes(active, 2, 5*mb, 0)

		var capErr *types.CapacityError
		require.True(t, errors.As(err, &capErr))
		assert.Equal(t, 2, capErr.RequiredNodes)
		assert.Equal(t, 0, capErr.NodesWithSpace)
		require.Len(t, capErr.NodesInfo, 2)
		for _, info := range capErr.NodesInfo {
			assert.InDelta(t, 4.0, info.DeficitMB, 0.01)
		}
	})

	t.Run("deficit info capped at five nodes", func(t *testing.T) {
		var active []*types.StorageNode
		for i := 0; i < 8; i++ {
			active = append(active, node(fmt.Sprintf("n%d", i), int64(i)))
		}
		_, err := strategy.SelectNodes(active, 3, 1000, 0)

		var capErr *types.CapacityError
		require.True(t, errors.As(err, &capErr))
		require.Len(t, capErr.NodesInfo, 5)
		// Top candidates by available space come first.
		assert.Equal(t, "n7", capErr.NodesInfo[0].NodeID)
	})

	t.Run("buffer counts toward the requirement", func(t *testing.T) {
		active := []*types.StorageNode{
			node("n1", 100),
			node("n2", 100),
		}
		_, err := strategy.SelectNodes(active, 2, 90, 20)
		var capErr *types.CapacityError
		require.True(t, errors.As(err, &capErr))

		selected, err := strategy.SelectNodes(active, 2, 90, 10)
		require.NoError(t, err)
		assert.Len(t, selected, 2)
	})
}

func TestSelectNodesProperties(t *testing.T) {
	strategy := MostAvailable{}

	rapid.Check(t, func(t *rapid.T) {
		nodeCount := rapid.IntRange(0, 12).Draw(t, "nodes")
		factor := rapid.IntRange(1, 6).Draw(t, "factor")
		fileSize := rapid.Int64Range(0, 1<<30).Draw(t, "size")
		buffer := rapid.Int64Range(0, 1<<20).Draw(t, "buffer")

		active := make([]*types.StorageNode, nodeCount)
		for i := range active {
			space := rapid.Int64Range(0, 2<<30).Draw(t, fmt.Sprintf("space%d", i))
			active[i] = node(fmt.Sprintf("n%d", i), space)
		}

		selected, err := strategy.SelectNodes(active, factor, fileSize, buffer)
		if err != nil {
			var nodesErr *types.ActiveNodesError
			var capErr *types.CapacityError
			switch {
			case errors.As(err, &nodesErr):
				if nodeCount >= factor {
					t.Fatalf("active-nodes failure with %d nodes for factor %d", nodeCount, factor)
				}
			case errors.As(err, &capErr):
				if len(capErr.NodesInfo) > 5 {
					t.Fatalf("deficit info lists %d nodes", len(capErr.NodesInfo))
				}
			default:
				t.Fatalf("unexpected error: %v", err)
			}
			return
		}

		if len(selected) != factor {
			t.Fatalf("selected %d nodes, want %d", len(selected), factor)
		}
		seen := make(map[string]bool)
		for _, node := range selected {
			if seen[node.NodeID] {
				t.Fatalf("node %s selected twice", node.NodeID)
			}
			seen[node.NodeID] = true
			if node.AvailableSpace < fileSize+buffer {
				t.Fatalf("node %s lacks space: %d < %d", node.NodeID, node.AvailableSpace, fileSize+buffer)
			}
		}
	})
}
