package dtypes

import (
	"github.com/ipfs/go-datastore"
)

// MetadataDS stores lease records and nonce counters
// by default it's namespaced under /metadata in main repo datastore
type MetadataDS datastore.Batching
