package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/kioskflow/api/internal/domain"
	pfirestore "github.com/kioskflow/api/internal/platform/firestore"
	"github.com/kioskflow/api/internal/repositories"
)

// KioskRepository reads kiosk records and their paired reader.
type KioskRepository struct {
	kiosks *pfirestore.Collection[kioskDocument]
}

var _ repositories.KioskRepository = (*KioskRepository)(nil)

func NewKioskRepository(provider *pfirestore.Provider) (*KioskRepository, error) {
	if provider == nil {
		return nil, errors.New("kiosk repository requires firestore provider")
	}
	return &KioskRepository{kiosks: pfirestore.NewCollection[kioskDocument](provider, kiosksCollection)}, nil
}

func (r *KioskRepository) FindByID(ctx context.Context, kioskID string) (domain.Kiosk, error) {
	doc, err := r.kiosks.Get(ctx, kioskID)
	if err != nil {
		return domain.Kiosk{}, err
	}
	kiosk := domain.Kiosk{ID: kioskID}
	if doc.ReaderID != nil && strings.TrimSpace(*doc.ReaderID) != "" {
		reader := strings.TrimSpace(*doc.ReaderID)
		kiosk.ReaderID = &reader
	}
	return kiosk, nil
}

// ReaderRepository reads payment terminal records.
type ReaderRepository struct {
	readers *pfirestore.Collection[readerDocument]
}

var _ repositories.ReaderRepository = (*ReaderRepository)(nil)

func NewReaderRepository(provider *pfirestore.Provider) (*ReaderRepository, error) {
	if provider == nil {
		return nil, errors.New("reader repository requires firestore provider")
	}
	return &ReaderRepository{readers: pfirestore.NewCollection[readerDocument](provider, readersCollection)}, nil
}

func (r *ReaderRepository) FindByID(ctx context.Context, readerID string) (domain.Reader, error) {
	doc, err := r.readers.Get(ctx, readerID)
	if err != nil {
		return domain.Reader{}, err
	}
	return domain.Reader{ID: readerID, ExternalReferenceID: strings.TrimSpace(doc.ExternalReferenceID)}, nil
}
