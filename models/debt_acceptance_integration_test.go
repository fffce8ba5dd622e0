package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tabshare/tabshare_backend/batcher"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/models"
	"github.com/tabshare/tabshare_backend/utils"
)

func TestAcceptDebtMirrorsForeignIntention(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "tabshare_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	acceptDebt := models.RegisterDebtAcceptance(batcher.NewRegistry())

	alice, err := models.RegisterAccount(ctx, &models.NewAccount{
		Username: "alice", Name: "Alice", Password: "s3cret-alice",
	})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, err := models.RegisterAccount(ctx, &models.NewAccount{
		Username: "bob", Name: "Bob", Password: "s3cret-bob",
	})
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	ctxAlice := utils.SetAccountIdInContext(ctx, alice.ID)
	ctxBob := utils.SetAccountIdInContext(ctx, bob.ID)

	// Each side keeps a counterparty record linked to the other account.
	bobAtAlice, err := models.CreateUser(ctxAlice, &models.NewUser{Name: "Bob", LinkedAccountId: &bob.ID})
	if err != nil {
		t.Fatalf("alice links bob: %v", err)
	}
	if _, err := models.CreateUser(ctxBob, &models.NewUser{Name: "Alice", LinkedAccountId: &alice.ID}); err != nil {
		t.Fatalf("bob links alice: %v", err)
	}

	fetched, err := models.GetUser(ctxAlice, bobAtAlice.ID)
	if err != nil {
		t.Fatalf("alice reads counterparty record: %v", err)
	}
	if fetched.LinkedAccountId == nil || *fetched.LinkedAccountId != bob.ID {
		t.Fatalf("counterparty link = %v, want account %d", fetched.LinkedAccountId, bob.ID)
	}

	txDate := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	debt, err := models.CreateDebt(ctxAlice, &models.NewDebt{
		UserId:          bobAtAlice.ID,
		Amount:          decimal.RequireFromString("25"),
		CurrencyCode:    "USD",
		TransactionDate: txDate,
		Note:            "dinner",
	})
	if err != nil {
		t.Fatalf("alice creates debt: %v", err)
	}

	intentions, err := models.GetPendingIntentions(ctxBob)
	if err != nil {
		t.Fatalf("bob lists intentions: %v", err)
	}
	if len(intentions) != 1 || intentions[0].Foreign.ID != debt.ID {
		t.Fatalf("intentions = %+v, want exactly alice's debt %d", intentions, debt.ID)
	}
	if intentions[0].Local != nil {
		t.Fatalf("unmirrored intention should carry no local row")
	}

	// Accept a valid id and an unknown id in the same window: the unknown
	// one must fail alone.
	const unknownId = 999999
	var (
		wg         sync.WaitGroup
		acceptRes  *models.DebtAcceptResult
		acceptErr  error
		unknownErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		acceptRes, acceptErr = acceptDebt(ctxBob, debt.ID)
	}()
	go func() {
		defer wg.Done()
		_, unknownErr = acceptDebt(ctxBob, unknownId)
	}()
	wg.Wait()

	if acceptErr != nil {
		t.Fatalf("accept valid id: %v", acceptErr)
	}
	var notFound *models.DebtNotFoundError
	if !errors.As(unknownErr, &notFound) || notFound.Id != unknownId {
		t.Fatalf("unknown id error = %v, want DebtNotFoundError for %d", unknownErr, unknownId)
	}
	if !acceptRes.UpdatedAt.After(debt.UpdatedAt) {
		t.Fatalf("accepted clock %s is not after foreign clock %s", acceptRes.UpdatedAt, debt.UpdatedAt)
	}

	// Bob's mirror negates alice's row under the same id.
	bobDebts, err := models.GetDebts(ctxBob, 10)
	if err != nil {
		t.Fatalf("bob lists debts: %v", err)
	}
	if len(bobDebts) != 1 {
		t.Fatalf("bob has %d debts, want 1", len(bobDebts))
	}
	mirror := bobDebts[0]
	if mirror.ID != debt.ID {
		t.Fatalf("mirror id = %d, want %d", mirror.ID, debt.ID)
	}
	if !mirror.Amount.Equal(decimal.RequireFromString("-25")) {
		t.Fatalf("mirror amount = %s, want -25", mirror.Amount)
	}

	// Once mirrored exactly, the intention is no longer pending.
	intentions, err = models.GetPendingIntentions(ctxBob)
	if err != nil {
		t.Fatalf("bob relists intentions: %v", err)
	}
	if len(intentions) != 0 {
		t.Fatalf("intentions = %+v, want none after acceptance", intentions)
	}

	// Alice revises; bob's re-accept overwrites the mirror in place.
	if _, err := models.UpdateDebt(ctxAlice, debt.ID, &models.UpdateDebtInput{
		Amount:          decimal.RequireFromString("30"),
		CurrencyCode:    "USD",
		TransactionDate: txDate,
		Note:            "dinner plus tip",
	}); err != nil {
		t.Fatalf("alice updates debt: %v", err)
	}

	intentions, err = models.GetPendingIntentions(ctxBob)
	if err != nil {
		t.Fatalf("bob lists intentions after revision: %v", err)
	}
	if len(intentions) != 1 || intentions[0].Local == nil {
		t.Fatalf("revised intention should pair foreign with the stale local row: %+v", intentions)
	}

	if _, err := acceptDebt(ctxBob, debt.ID); err != nil {
		t.Fatalf("bob re-accepts: %v", err)
	}
	bobDebts, err = models.GetDebts(ctxBob, 10)
	if err != nil {
		t.Fatalf("bob relists debts: %v", err)
	}
	if len(bobDebts) != 1 {
		t.Fatalf("re-accept must overwrite, not insert: %d rows", len(bobDebts))
	}
	if !bobDebts[0].Amount.Equal(decimal.RequireFromString("-30")) {
		t.Fatalf("mirror amount after re-accept = %s, want -30", bobDebts[0].Amount)
	}

	// Propagating a receipt queues an outbox event per touched row, like the
	// direct create/update paths do.
	receipt, err := models.CreateReceipt(ctxAlice, &models.NewReceipt{
		CurrencyCode: "USD",
		IssuedAt:     txDate,
		Note:         "groceries",
		Items:        []models.NewReceiptItem{{Name: "cart", Price: decimal.RequireFromString("40"), Quantity: decimal.NewFromInt(1)}},
		Participants: []models.NewReceiptParticipant{{UserId: bobAtAlice.ID, PartNumerator: 1, PartDenominator: 2}},
		Payers:       []models.NewReceiptPayer{},
	})
	if err != nil {
		t.Fatalf("alice creates receipt: %v", err)
	}

	var eventsBefore int64
	if err := config.GetDB().Model(&models.DebtEvent{}).Count(&eventsBefore).Error; err != nil {
		t.Fatalf("count debt events: %v", err)
	}

	propagated, err := models.PropagateReceiptDebts(ctxAlice, receipt.ID)
	if err != nil {
		t.Fatalf("alice propagates receipt: %v", err)
	}
	touched := int64(len(propagated.CreatedUserIds) + len(propagated.UpdatedDebtIds))
	if touched == 0 {
		t.Fatalf("propagation touched nothing: %+v", propagated)
	}

	var eventsAfter int64
	if err := config.GetDB().Model(&models.DebtEvent{}).Count(&eventsAfter).Error; err != nil {
		t.Fatalf("recount debt events: %v", err)
	}
	if eventsAfter-eventsBefore != touched {
		t.Fatalf("propagation queued %d events for %d touched rows", eventsAfter-eventsBefore, touched)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("tabshare-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("tabshare-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=tabshare_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
