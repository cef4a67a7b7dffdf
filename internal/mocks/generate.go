// Package mocks provides mock implementations for testing the robo-ops workflow core.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockRunRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(run, nil)
package mocks

// Generate mock for RunRepository interface from internal/core package.
// This creates MockRunRepository with methods for all RunRepository interface methods:
// Create, GetByID, Update, ListActive, ListByContract
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=run_repository_mock.go github.com/telbill/robo-ops/internal/core RunRepository

// Generate mock for InvoiceRepository interface from internal/core package.
// This creates MockInvoiceRepository with methods for all InvoiceRepository interface methods:
// Create, GetByID, Update, ListPending
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=invoice_repository_mock.go github.com/telbill/robo-ops/internal/core InvoiceRepository

// Generate mock for ContractDirectory interface from internal/core package.
// This creates MockContractDirectory with methods for all ContractDirectory interface methods:
// GetByID, ListActive
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=contract_directory_mock.go github.com/telbill/robo-ops/internal/core ContractDirectory

// Generate mock for SnapshotCache interface from internal/core package.
// This creates MockSnapshotCache with methods for all SnapshotCache interface methods:
// PutRun, PutInvoice, Snapshot
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=snapshot_cache_mock.go github.com/telbill/robo-ops/internal/core SnapshotCache
