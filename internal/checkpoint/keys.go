package checkpoint

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Key scheme. Reproduced bit-exactly for interop with persisted data:
//
//	checkpoint:{namespace}:{thread_id}:{sub_namespace}:{checkpoint_id}
//	writes:{namespace}:{thread_id}:{sub_namespace}:{checkpoint_id}:{task_id}:{sequence_index}
//	checkpoint_keys:{namespace}:{thread_id}
//	writes_keys:{namespace}:{thread_id}:{sub_namespace}
//
// The field separator is ":". A ":" embedded in sub_namespace is preserved
// literally, so parsers split from both ends and treat the middle as the
// sub-namespace.
const (
	snapshotPrefix    = "checkpoint"
	writesPrefix      = "writes"
	snapshotIndexName = "checkpoint_keys"
	writesIndexName   = "writes_keys"
)

func snapshotKey(k domain.CheckpointKey) string {
	return strings.Join([]string{snapshotPrefix, k.Namespace, k.ThreadID, k.SubNamespace, k.CheckpointID}, ":")
}

func writeKey(k domain.CheckpointKey, taskID string, seq int) string {
	return strings.Join([]string{
		writesPrefix, k.Namespace, k.ThreadID, k.SubNamespace, k.CheckpointID,
		taskID, fmt.Sprintf("%d", seq),
	}, ":")
}

func snapshotIndexKey(namespace, threadID string) string {
	return strings.Join([]string{snapshotIndexName, namespace, threadID}, ":")
}

func writesIndexKey(namespace, threadID, subNamespace string) string {
	return strings.Join([]string{writesIndexName, namespace, threadID, subNamespace}, ":")
}

// parseSnapshotKey inverts snapshotKey, splitting from both ends so an
// embedded ":" inside sub_namespace survives.
func parseSnapshotKey(key string) (domain.CheckpointKey, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 5 || parts[0] != snapshotPrefix {
		return domain.CheckpointKey{}, fmt.Errorf("malformed checkpoint key: %q", key)
	}
	return domain.CheckpointKey{
		Namespace:    parts[1],
		ThreadID:     parts[2],
		SubNamespace: strings.Join(parts[3:len(parts)-1], ":"),
		CheckpointID: parts[len(parts)-1],
	}, nil
}

// parseWriteKey inverts writeKey: the first four fields and the last two
// are fixed, the middle is the sub-namespace.
func parseWriteKey(key string) (k domain.CheckpointKey, taskID string, seq string, err error) {
	parts := strings.Split(key, ":")
	if len(parts) < 7 || parts[0] != writesPrefix {
		return domain.CheckpointKey{}, "", "", fmt.Errorf("malformed pending-write key: %q", key)
	}
	n := len(parts)
	k = domain.CheckpointKey{
		Namespace:    parts[1],
		ThreadID:     parts[2],
		SubNamespace: strings.Join(parts[3:n-3], ":"),
		CheckpointID: parts[n-3],
	}
	return k, parts[n-2], parts[n-1], nil
}
