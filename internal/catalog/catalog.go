package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/store"
)

const (
	PageSize = 100

	pagePrefix      = "products : "
	recordSeparator = ";"
	fieldSeparator  = " | "

	// символы разметки страницы
	reservedChars = ":;|"
)

var (
	ErrInvalidListing = errors.New("listing does not exist")
	ErrInvalidPrice   = errors.New("price must be greater than zero")
)

// Catalog - упорядоченный список товаров, доступных к покупке
type Catalog interface {
	Add(ctx context.Context, data model.ListingData) (model.Listing, error)
	Get(ctx context.Context, id uint64) (model.Listing, error)
	Remove(ctx context.Context, id uint64) (model.Listing, error)
	Page(ctx context.Context, index uint32) ([]model.Listing, error)
}

type catalog struct {
	tx store.Tx
}

func NewCatalog(tx store.Tx) Catalog {
	return &catalog{tx: tx}
}

func (catalog *catalog) Add(ctx context.Context, data model.ListingData) (model.Listing, error) {
	if !data.Price.IsPositive() {
		return model.Listing{}, ErrInvalidPrice
	}

	id, err := catalog.tx.ListingNextID(ctx)
	if err != nil {
		return model.Listing{}, err
	}
	listing := model.Listing{ID: id, Data: data}
	err = catalog.tx.ListingPost(ctx, listing)
	if err != nil {
		return model.Listing{}, err
	}
	return listing, nil
}

func (catalog *catalog) Get(ctx context.Context, id uint64) (model.Listing, error) {
	listing, err := catalog.tx.ListingGet(ctx, id)
	if err != nil {
		if err == store.ErrNoRows {
			return model.Listing{}, ErrInvalidListing
		}
		return model.Listing{}, err
	}
	return listing, nil
}

func (catalog *catalog) Remove(ctx context.Context, id uint64) (model.Listing, error) {
	listing, err := catalog.Get(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	err = catalog.tx.ListingDelete(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	return listing, nil
}

func (catalog *catalog) Page(ctx context.Context, index uint32) ([]model.Listing, error) {
	return catalog.tx.ListingPage(ctx, int(index)*PageSize, PageSize)
}

// ValidName - имя непустое и не содержит символов разметки страницы
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, reservedChars)
}

// FormatPage: "products : <id> | <name> | <price>;..."
func FormatPage(listings []model.Listing) string {
	records := make([]string, 0, len(listings))
	for _, listing := range listings {
		records = append(records, strconv.FormatUint(listing.ID, 10)+fieldSeparator+
			listing.Data.Name+fieldSeparator+
			listing.Data.Price.String())
	}
	return pagePrefix + strings.Join(records, recordSeparator)
}
