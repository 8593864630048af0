package domain

import "context"

// Transaction represents a mutable unit of work over the catalog. Lookups made
// through the embedded view observe the uncommitted state of the transaction.
//
// Upsert methods create the record when its ID is unknown (an empty ID gets a
// fresh UUIDv4) and otherwise replace its scalar fields. Link sets
// (DataFile.DependencyIDs, Release.DataFileIDs) are never replaced by an
// upsert; they only grow through the Add methods.
type Transaction interface {
	TransactionView
	UpsertFormatSpecification(FormatSpecification) (FormatSpecification, bool, error)
	UpsertEntity(Entity) (Entity, bool, error)
	UpsertQuantity(Quantity) (Quantity, bool, error)
	UpsertDataFile(DataFile) (DataFile, bool, error)
	UpsertRelease(Release) (Release, bool, error)
	AddDataFileDependency(dataFileID, dependencyID string) error
	AddReleaseDataFile(tag, dataFileID string) error
}

// TransactionView provides read-only access to catalog state. List methods
// return records in a stable order.
type TransactionView interface {
	ListFormatSpecifications() []FormatSpecification
	ListEntities() []Entity
	ListQuantities() []Quantity
	ListDataFiles() []DataFile
	ListReleases() []Release
	FindFormatSpecification(id string) (FormatSpecification, bool)
	FindFormatSpecificationByRef(documentRef string) (FormatSpecification, bool)
	FindEntity(id string) (Entity, bool)
	FindQuantity(id string) (Quantity, bool)
	FindDataFile(id string) (DataFile, bool)
	FindRelease(tag string) (Release, bool)
	ListRootEntities() []Entity
	ListChildren(parentID string) []Entity
	ListEntityQuantities(entityID string) []Quantity
	ListQuantityDataFiles(quantityID string) []DataFile
}

// PersistentStore is a minimal abstraction over durable backends. Each
// RunInTransaction call is atomic; nothing wraps several calls together.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
