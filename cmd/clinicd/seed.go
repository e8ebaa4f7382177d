package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/vetclinic/internal/app"
	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/runtime"
	"github.com/R3E-Network/vetclinic/internal/app/services/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/services/customers"
	"github.com/R3E-Network/vetclinic/internal/cli"
	"github.com/R3E-Network/vetclinic/internal/middleware"
)

type seedOptions struct {
	owner    string
	vet      string
	name     string
	slug     string
	timezone string
}

func newSeedCommand(root *rootOptions) *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo clinic with a vet, services and a customer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Shutdown(context.Background())

			started := time.Now()
			rows, err := seedDemo(ctx, rt.App(), opts)
			if err != nil {
				return err
			}
			out := cli.NewPrinter(cmd.OutOrStdout())
			if err := out.Table([]string{"KIND", "ID", "NAME"}, rows); err != nil {
				return err
			}
			out.Elapsed("seeded demo clinic", started, time.Now())

			if cfg.Auth.JWTSecret != "" {
				token, err := middleware.SignToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, opts.owner, "", 24*time.Hour)
				if err != nil {
					return err
				}
				out.Info("owner token (24h): %s", token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "demo-owner", "user id of the clinic owner")
	cmd.Flags().StringVar(&opts.vet, "vet", "demo-vet", "user id of the veterinarian")
	cmd.Flags().StringVar(&opts.name, "name", "Demo Veterinary Clinic", "clinic name")
	cmd.Flags().StringVar(&opts.slug, "slug", "demo-clinic", "clinic slug")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "UTC", "clinic time zone")
	return cmd
}

// seedDemo creates the demo tenant through the services so every guard and
// default applies. It returns one table row per created resource.
func seedDemo(ctx context.Context, application *app.Application, opts seedOptions) ([][]string, error) {
	t, err := application.Tenants.CreateTenant(ctx, opts.owner, opts.name, opts.slug, opts.timezone)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	owner, err := application.Resolver.Resolve(ctx, auth.Principal{UserID: opts.owner}, t.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	rows := [][]string{{"tenant", t.ID, t.Name}}

	vet, err := application.Tenants.AddMember(ctx, owner, opts.vet, tenant.RoleVeterinarian, "Dr. Demo", "")
	if err != nil {
		return nil, fmt.Errorf("add vet: %w", err)
	}
	rows = append(rows, []string{"member", vet.UserID, string(vet.Role)})

	for _, in := range []catalog.Input{
		{Name: "Wellness exam", DurationMinutes: 30, PriceCents: 6500, RequiresVet: true},
		{Name: "Vaccination", DurationMinutes: 15, PriceCents: 3500, RequiresVet: true},
		{Name: "Nail trim", DurationMinutes: 15, PriceCents: 1500},
	} {
		svc, err := application.Catalog.Create(ctx, owner, in)
		if err != nil {
			return nil, fmt.Errorf("create service %s: %w", in.Name, err)
		}
		rows = append(rows, []string{"service", svc.ID, svc.Name})
	}

	c, err := application.Customers.Create(ctx, owner, customers.Input{
		FirstName: "Jamie",
		LastName:  "Rivera",
		Email:     "jamie.rivera@example.com",
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	rows = append(rows, []string{"customer", c.ID, c.FirstName + " " + c.LastName})

	pet, err := application.Customers.AddPet(ctx, owner, c.ID, customers.PetInput{Name: "Biscuit", Species: "dog", Breed: "beagle"})
	if err != nil {
		return nil, fmt.Errorf("add pet: %w", err)
	}
	rows = append(rows, []string{"pet", pet.ID, pet.Name})
	return rows, nil
}
