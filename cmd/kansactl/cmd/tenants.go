package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/server"
)

func newTenantsCmd(v *viper.Viper) *cobra.Command {
	tenants := &cobra.Command{
		Use:   "tenants",
		Short: "Manage registered tenants",
	}
	tenants.AddCommand(newTenantCreateCmd(v), newTenantListCmd(v), newTenantGetCmd(v), newTenantDeleteCmd(v))
	return tenants
}

func newTenantCreateCmd(v *viper.Viper) *cobra.Command {
	var req server.CreateTenantRequest
	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and its application credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := clientFrom(v).CreateTenant(cmd.Context(), req)
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, t)
			}
			cmd.Printf("Created tenant %s (%s)\n", t.ID, t.Name)
			return nil
		},
	}
	c.Flags().StringVar(&req.Name, "name", "", "display name")
	c.Flags().StringVar(&req.DirectoryID, "directory-id", "", "directory (tenant) id at the provider")
	c.Flags().StringVar(&req.ClientID, "client-id", "", "application client id")
	c.Flags().StringVar(&req.ClientSecret, "client-secret", "", "application client secret")
	c.Flags().StringVar(&req.Endpoint, "endpoint", "", "provider endpoint override")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("directory-id")
	_ = c.MarkFlagRequired("client-id")
	_ = c.MarkFlagRequired("client-secret")
	return c
}

func newTenantListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := clientFrom(v).ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, ts)
			}
			printTenants(cmd, ts)
			return nil
		},
	}
}

func newTenantGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get [tenant_id]",
		Short: "Show one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := clientFrom(v).GetTenant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(v) {
				return printJSON(cmd, t)
			}
			printTenants(cmd, []model.Tenant{*t})
			return nil
		},
	}
}

func newTenantDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [tenant_id]",
		Short: "Delete a tenant and all of its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFrom(v).DeleteTenant(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted tenant %s\n", args[0])
			return nil
		},
	}
}

func printTenants(cmd *cobra.Command, ts []model.Tenant) {
	if len(ts) == 0 {
		cmd.Println("No tenants.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDIRECTORY\tCLIENT\tCREATED")
	for _, t := range ts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.DirectoryID, t.ClientID, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
