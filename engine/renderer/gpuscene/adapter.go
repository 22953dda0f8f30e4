package gpuscene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// UploadDataSourceAdapter abstracts where upload items come from so the same
// packing pipeline serves both persistent scene primitives and per-view
// dynamic primitives.
//
// The header query is cheap and is the only one the sequential offset pass
// may issue; the full queries are for the parallel packing phase. Counts
// returned by the header for item i must exactly match what the full
// queries produce for the same i; a mismatch is a programmer error and is
// asserted during packing.
type UploadDataSourceAdapter interface {
	NumPrimitivesToUpload() int
	GetItemPrimitiveIDs() []uint32
	GetPrimitiveInfoHeader(itemIndex int, header *metadata.PrimitiveUploadInfoHeader)
	GetPrimitiveInfo(itemIndex int, info *metadata.PrimitiveUploadInfo)
	GetInstanceInfo(itemIndex int, info *metadata.InstanceUploadInfo)
	GetLightMapInfo(itemIndex int, info *metadata.LightMapUploadInfo)
	// GetWriteDeclaration reports the item's GPU write dependency:
	// GPU_WRITE_PASS_NONE with a non-nil delegate runs right after upload,
	// a later pass defers the delegate to that pass boundary.
	GetWriteDeclaration(itemIndex int) (metadata.GPUWritePass, metadata.GPUWriteDelegate)
}
