package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"shopbot/internal/config"
	"shopbot/internal/domain"
	"shopbot/internal/store"

	"github.com/spf13/cobra"
)

// seedFile is the on-disk shape for `shopbot seed`: one business with its
// pages and catalog.
type seedFile struct {
	Business struct {
		Name        string `json:"name"`
		About       string `json:"about"`
		Currency    string `json:"currency"`
		PaymentLink string `json:"payment_link"`
	} `json:"business"`
	Pages []struct {
		ProviderID  string `json:"provider_id"`
		Kind        string `json:"kind"`
		AccessToken string `json:"access_token"`
	} `json:"pages"`
	Products []struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		PriceCents  int64    `json:"price_cents"`
		Stock       int      `json:"stock"`
		Sizes       []string `json:"sizes"`
		ImageURL    string   `json:"image_url"`
	} `json:"products"`
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load a business, its pages and catalog from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var seed seedFile
			if err := json.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}
			if seed.Business.Name == "" {
				return fmt.Errorf("seed file has no business name")
			}

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()
			business := &domain.Business{
				Name:        seed.Business.Name,
				About:       seed.Business.About,
				Currency:    seed.Business.Currency,
				PaymentLink: seed.Business.PaymentLink,
			}
			if err := st.CreateBusiness(ctx, business); err != nil {
				return fmt.Errorf("create business: %w", err)
			}

			for _, p := range seed.Pages {
				kind := p.Kind
				if kind == "" {
					kind = domain.PageKindMessenger
				}
				page := &domain.Page{
					ProviderID:  p.ProviderID,
					Kind:        kind,
					AccessToken: p.AccessToken,
					BusinessID:  business.ID,
				}
				if err := st.CreatePage(ctx, page); err != nil {
					return fmt.Errorf("create page %s: %w", p.ProviderID, err)
				}
			}

			for _, p := range seed.Products {
				product := &domain.Product{
					ID:          p.ID,
					BusinessID:  business.ID,
					Name:        p.Name,
					Description: p.Description,
					PriceCents:  p.PriceCents,
					Stock:       p.Stock,
					Sizes:       p.Sizes,
					ImageURL:    p.ImageURL,
				}
				if err := st.CreateProduct(ctx, product); err != nil {
					return fmt.Errorf("create product %s: %w", p.Name, err)
				}
			}

			logger.Info("seeded", "business", business.Name, "pages", len(seed.Pages), "products", len(seed.Products))
			return nil
		},
	}
}
