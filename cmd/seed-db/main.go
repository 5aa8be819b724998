package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/preloved-shop/internal/domain/auth"
	"github.com/xenking/preloved-shop/internal/domain/product"
	"github.com/xenking/preloved-shop/internal/midtrans"
	"github.com/xenking/preloved-shop/internal/repository"
)

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     int64           `json:"price"`
	Category  string          `json:"category"`
	PhotoURL  string          `json:"photoUrl"`
	Size      string          `json:"size"`
	Condition string          `json:"condition"`
	WeightKg  decimal.Decimal `json:"weightKg"`
	Stock     int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string

		signOrder  string
		signAmount string
		signStatus string
		serverKey  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&signOrder, "sign-order", "", "print a signed sample notification for this order id and exit")
	flag.StringVar(&signAmount, "sign-amount", "", "gross_amount of the sample notification, e.g. 185000.00")
	flag.StringVar(&signStatus, "sign-status", "settlement", "transaction_status of the sample notification")
	flag.StringVar(&serverKey, "server-key", "", "Midtrans server key used for signing (or MIDTRANS_SERVER_KEY env)")
	flag.Parse()

	if signOrder != "" {
		if serverKey == "" {
			serverKey = os.Getenv("MIDTRANS_SERVER_KEY")
		}
		if serverKey == "" || signAmount == "" {
			slog.Error("server key and amount are required: set --server-key and --sign-amount")
			os.Exit(1)
		}
		if _, err := midtrans.ParseAmount(signAmount); err != nil {
			slog.Error("invalid amount", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Println(signedNotification(midtrans.NewSigner(serverKey), signOrder, signAmount, signStatus))
		return
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Category:  p.Category,
			PhotoURL:  p.PhotoURL,
			Size:      p.Size,
			Condition: p.Condition,
			WeightKg:  p.WeightKg,
			Stock:     p.Stock,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding staff API key")

	if err := repo.Create(ctx, auth.APIKeyInfo{
		ID:      "staff",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Back office",
		Scopes:  []string{auth.ScopeManageOrders},
	}); err != nil {
		return errors.Wrap(err, "upsert staff API key")
	}

	slog.Info("upserted API key", slog.String("id", "staff"), slog.String("name", "Back office"))

	return nil
}

// signedNotification renders a provider-style notification body, handy for
// exercising the webhook with curl against a sandbox key.
func signedNotification(signer *midtrans.Signer, orderID, amount, status string) string {
	const statusCode = "200"
	body, _ := json.MarshalIndent(map[string]string{
		"order_id":           orderID,
		"status_code":        statusCode,
		"gross_amount":       amount,
		"transaction_status": status,
		"fraud_status":       "accept",
		"signature_key":      signer.Sign(orderID, statusCode, amount),
	}, "", "  ")
	return string(body)
}
