package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	GetStore(ctx context.Context, id int64) (Store, error)
	ListActiveStores(ctx context.Context) ([]Store, error)
	CreateStore(ctx context.Context, input CreateStoreInput) (Store, error)
	UpdateStore(ctx context.Context, id int64, input UpdateStoreInput) (Store, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (Product, error)
	UpdateProduct(ctx context.Context, id int64, input UpdateProductInput) (Product, error)
}

// Service validates and coordinates master data changes.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateStore registers a new store.
func (s *Service) CreateStore(ctx context.Context, input CreateStoreInput) (Store, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if input.Code == "" || input.Name == "" {
		return Store{}, errors.New("masterdata: store code and name required")
	}
	if input.CreditLimit != nil && *input.CreditLimit < 0 {
		return Store{}, ErrInvalidLimit
	}
	return s.repo.CreateStore(ctx, input)
}

// UpdateStore changes store fields; a ClearLimit request removes the cap.
func (s *Service) UpdateStore(ctx context.Context, id int64, input UpdateStoreInput) (Store, error) {
	if input.CreditLimit != nil && *input.CreditLimit < 0 {
		return Store{}, ErrInvalidLimit
	}
	return s.repo.UpdateStore(ctx, id, input)
}

// GetStore fetches one store.
func (s *Service) GetStore(ctx context.Context, id int64) (Store, error) {
	return s.repo.GetStore(ctx, id)
}

// ListActiveStores lists stores available for ordering.
func (s *Service) ListActiveStores(ctx context.Context) ([]Store, error) {
	return s.repo.ListActiveStores(ctx)
}

// CreateProduct registers a new product.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	input.Name = strings.TrimSpace(input.Name)
	if input.SKU == "" || input.Name == "" {
		return Product{}, errors.New("masterdata: product sku and name required")
	}
	if input.Price <= 0 {
		return Product{}, ErrInvalidPrice
	}
	if input.MinStockLevel < 0 {
		return Product{}, ErrInvalidMinStock
	}
	return s.repo.CreateProduct(ctx, input)
}

// UpdateProduct applies a bulk of optional field updates, collecting every
// violation before touching the row so callers can fix all of them at once.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input UpdateProductInput) (Product, error) {
	var violations []string
	if input.Price != nil && *input.Price <= 0 {
		violations = append(violations, ErrInvalidPrice.Error())
	}
	if input.MinStockLevel != nil && *input.MinStockLevel < 0 {
		violations = append(violations, ErrInvalidMinStock.Error())
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		violations = append(violations, "name must not be empty")
	}
	if len(violations) > 0 {
		return Product{}, fmt.Errorf("masterdata: %s", strings.Join(violations, "; "))
	}
	return s.repo.UpdateProduct(ctx, id, input)
}

// GetProduct fetches one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// GetProducts fetches a batch of products keyed by id.
func (s *Service) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	return s.repo.GetProducts(ctx, ids)
}

// ListProducts lists the catalogue.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.repo.ListProducts(ctx)
}
