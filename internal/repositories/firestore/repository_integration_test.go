//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/kioskflow/api/internal/domain"
	pconfig "github.com/kioskflow/api/internal/platform/config"
	pfirestore "github.com/kioskflow/api/internal/platform/firestore"
	"github.com/kioskflow/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

const (
	itActivity = "01HZX3K9P6Q8W7VJ2T5N4M3A01"
	itRoom     = "01HZX3K9P6Q8W7VJ2T5N4M3A02"
	itKiosk    = "01HZX3K9P6Q8W7VJ2T5N4M3A03"
	itReader   = "01HZX3K9P6Q8W7VJ2T5N4M3A04"
	itProduct  = "01HZX3K9P6Q8W7VJ2T5N4M3A05"
	itOption   = "01HZX3K9P6Q8W7VJ2T5N4M3A06"
	itOrder    = "01HZX3K9P6Q8W7VJ2T5N4M3A07"
	itMissing  = "01HZX3K9P6Q8W7VJ2T5N4M3A08"
)

func newIntegrationProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "orders-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func seedDocuments(ctx context.Context, t *testing.T, provider *pfirestore.Provider) {
	t.Helper()
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	reader := itReader
	seeds := map[string]map[string]any{
		activitiesCollection + "/" + itActivity: {"name": "Breakfast"},
		roomsCollection + "/" + itRoom:          {"name": "Hall"},
		kiosksCollection + "/" + itKiosk:        {"name": "Kiosk 1", "readerId": reader},
		readersCollection + "/" + itReader:      {"name": "Solo", "externalReferenceId": "rdr_ext"},
		productsCollection + "/" + itProduct:    {"name": "Coffee", "price": int64(250)},
		optionsCollection + "/" + itOption:      {"name": "Oat milk", "price": int64(50)},
	}
	for path, data := range seeds {
		parts := strings.SplitN(path, "/", 2)
		if _, err := client.Collection(parts[0]).Doc(parts[1]).Set(ctx, data); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newIntegrationProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	seedDocuments(ctx, t, provider)

	catalog, _ := NewCatalogRepository(provider)
	kiosks, _ := NewKioskRepository(provider)
	readers, _ := NewReaderRepository(provider)
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	product, err := catalog.FindProduct(ctx, itProduct)
	if err != nil || product.Price != 250 {
		t.Fatalf("unexpected product %#v, %v", product, err)
	}
	_, err = catalog.FindOption(ctx, itMissing)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found option, got %v", err)
	}
	kiosk, err := kiosks.FindByID(ctx, itKiosk)
	if err != nil || kiosk.ReaderID == nil || *kiosk.ReaderID != itReader {
		t.Fatalf("unexpected kiosk %#v, %v", kiosk, err)
	}
	reader, err := readers.FindByID(ctx, itReader)
	if err != nil || reader.ExternalReferenceID != "rdr_ext" {
		t.Fatalf("unexpected reader %#v, %v", reader, err)
	}

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	kioskID := itKiosk
	txID := "tx-int-1"
	order := domain.Order{
		ID:             itOrder,
		ActivityID:     itActivity,
		RoomID:         itRoom,
		KioskID:        &kioskID,
		Products:       []domain.OrderItem{{ItemID: itProduct, Quantity: 2}},
		Options:        []domain.OrderItem{{ItemID: itOption, Quantity: 1}},
		Status:         domain.OrderStatusPending,
		CheckoutMethod: domain.CheckoutMethodSumUp,
		Payment:        &domain.Payment{Status: domain.PaymentStatusPending, ClientTransactionID: &txID},
		Subtotal:       550,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := orders.Insert(ctx, order); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	dangling := order
	dangling.ID = itMissing
	dangling.Products = []domain.OrderItem{{ItemID: itMissing, Quantity: 1}}
	err = orders.Insert(ctx, dangling)
	var refErr *repositories.ReferenceError
	if !errors.As(err, &refErr) || len(refErr.Missing[repositories.ReferenceProduct]) != 1 {
		t.Fatalf("expected reference error, got %v", err)
	}
	if _, err := orders.FindByID(ctx, itMissing); err == nil {
		t.Fatalf("expected dangling order not to be persisted")
	}

	stored, err := orders.FindByID(ctx, itOrder)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Subtotal != 550 || stored.Payment == nil || *stored.Payment.ClientTransactionID != txID {
		t.Fatalf("unexpected stored order %#v", stored)
	}

	pending, err := orders.ListPendingPayments(ctx, repositories.PendingPaymentFilter{
		Method:        domain.CheckoutMethodSumUp,
		CreatedBefore: now.Add(time.Minute),
		Limit:         10,
	})
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending payment, got %d (%v)", len(pending), err)
	}

	changes, err := orders.UpdateStatuses(ctx, []string{itOrder, itMissing}, func(o domain.Order) (domain.Order, bool, error) {
		o.Status = domain.OrderStatusConfirmed
		return o, true, nil
	})
	if err != nil || len(changes) != 1 || changes[0].Previous != domain.OrderStatusPending {
		t.Fatalf("unexpected status changes %#v, %v", changes, err)
	}

	abort := errors.New("abort")
	_, err = orders.UpdateStatuses(ctx, []string{itOrder}, func(o domain.Order) (domain.Order, bool, error) {
		return o, false, abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	settled, changed, err := orders.UpdatePayment(ctx, txID, func(o domain.Order) (domain.Order, bool, error) {
		o.Payment.Status = domain.PaymentStatusSuccessful
		return o, true, nil
	})
	if err != nil || !changed || settled.Payment.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("unexpected settlement %#v, %v", settled, err)
	}
	if settled.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected settlement to keep order status, got %s", settled.Status)
	}
	_, _, err = orders.UpdatePayment(ctx, "unknown-tx", func(o domain.Order) (domain.Order, bool, error) {
		return o, false, nil
	})
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for unknown transaction, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator at %s did not become ready", endpoint)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
