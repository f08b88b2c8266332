package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/vitwit/greendish/registry"
	"github.com/vitwit/greendish/server"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/utils"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting greendish", map[string]any{"version": version})

	openCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Network.ProbeTimeout+5*time.Second)
	err = a.gd.Open(openCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	srv := server.New(a.gd,
		server.WithGatherer(a.gd.Gatherer()),
		server.WithLogger(a.logger),
		server.WithRequestTimeout(a.cfg.Server.RequestTimeout),
	)

	httpServer := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", map[string]any{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("shutting down", map[string]any{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	a.logger.Info("server stopped", nil)
	return nil
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect the wallet, probe the contract and print the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.cfg.Network.ProbeTimeout)
			defer cancel()

			// A failed connect is still reported through the snapshot.
			connectErr := a.connect(ctx)

			snap := a.gd.Snapshot()
			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), snap); err != nil {
					return err
				}
			} else {
				printSnapshot(cmd.OutOrStdout(), snap)
			}
			return connectErr
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func newSwitchNetworkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-network <chainId>",
		Short: "Ask the wallet to switch chains, adding the chain if it is unknown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := utils.ParseChainID(args[0])
			if err != nil {
				return fmt.Errorf("invalid chain id %q: %w", args[0], err)
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.cfg.Network.ProbeTimeout)
			defer cancel()

			if err := a.connect(ctx); err != nil {
				return err
			}
			if err := a.gd.SwitchNetwork(ctx, chainID); err != nil {
				return err
			}
			a.gd.Wait()

			printSnapshot(cmd.OutOrStdout(), a.gd.Snapshot())
			return nil
		},
	}
}

func newNetworksCmd() *cobra.Command {
	var networksFile string

	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List the registered networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.Default()
			if networksFile != "" {
				var err error
				if reg, err = registry.LoadFile(networksFile); err != nil {
					return err
				}
			}
			printNetworks(cmd.OutOrStdout(), reg.Descriptors())
			return nil
		},
	}

	cmd.Flags().StringVar(&networksFile, "file", "", "YAML file with extra networks")
	return cmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <address>",
		Short: "Show GreenDish token details for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := utils.ChecksumAddress(args[0])
			if err != nil {
				return err
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.cfg.Network.ProbeTimeout)
			defer cancel()

			if err := a.connect(ctx); err != nil {
				return err
			}
			info, err := a.gd.TokenInfo(ctx, common.HexToAddress(account))
			if err != nil {
				return err
			}
			info.Account = account
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newRewardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "Show whether reward tokens are still available",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.cfg.Network.ProbeTimeout)
			defer cancel()

			if err := a.connect(ctx); err != nil {
				return err
			}
			status, err := a.gd.RewardsStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

// registerFlags holds the raw register command flags.
type registerFlags struct {
	name          string
	supplySource  string
	supplyDetails string
	dish          string
	component     string
	credits       uint64
	price         string
}

func (f registerFlags) registration() (types.RestaurantRegistration, error) {
	source, err := types.ParseSupplySource(f.supplySource)
	if err != nil {
		return types.RestaurantRegistration{}, types.NewError(types.ErrInvalidRegistration, err.Error(), nil)
	}
	reg := types.RestaurantRegistration{
		RestaurantName:    f.name,
		SupplySource:      source,
		SupplyDetails:     f.supplyDetails,
		DishName:          f.dish,
		DishMainComponent: f.component,
		DishCarbonCredits: f.credits,
		DishPrice:         f.price,
	}
	if err := utils.ValidateStruct(&reg, types.ErrInvalidRegistration); err != nil {
		return types.RestaurantRegistration{}, err
	}
	return reg, nil
}

func newRegisterCmd() *cobra.Command {
	var f registerFlags

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a restaurant and its dish on the GreenDish contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := f.registration()
			if err != nil {
				return err
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.cfg.Network.ProbeTimeout+a.cfg.Contract.RegistrationTimeout)
			defer cancel()

			if err := a.connect(ctx); err != nil {
				return err
			}
			result, err := a.gd.Register(ctx, reg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Restaurant registered in block %d\n", result.BlockNumber)
			fmt.Fprintf(cmd.OutOrStdout(), "Transaction: %s\n", result.TxHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "restaurant name")
	cmd.Flags().StringVar(&f.supplySource, "supply-source", "local", "local, imported, green or other")
	cmd.Flags().StringVar(&f.supplyDetails, "supply-details", "", "where the ingredients come from")
	cmd.Flags().StringVar(&f.dish, "dish", "", "dish name")
	cmd.Flags().StringVar(&f.component, "component", "", "main component of the dish")
	cmd.Flags().Uint64Var(&f.credits, "credits", 1, "carbon credits of the dish (1-100)")
	cmd.Flags().StringVar(&f.price, "price", "", "dish price in AXC (at least 0.001)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func printSnapshot(out io.Writer, s types.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s (%s)\n", s.Status.Title, s.Status.Level)
	fmt.Fprintf(w, "Message:\t%s\n", s.Status.Message)
	fmt.Fprintf(w, "Connection:\t%s\n", s.Connection)
	if s.Connection.Account != "" {
		fmt.Fprintf(w, "Account:\t%s\n", utils.ShortAddress(s.Connection.Account))
	}
	network := "unregistered"
	if s.Network != nil {
		network = s.Network.ChainName
	}
	fmt.Fprintf(w, "Network:\t%s (valid: %t)\n", network, s.NetworkValid)
	fmt.Fprintf(w, "Contract:\t%s %s\n", s.ContractAddress, s.Contract)
	if s.Warning != "" {
		fmt.Fprintf(w, "Warning:\t%s\n", s.Warning)
	}
	w.Flush()
}

func printNetworks(out io.Writer, networks []types.NetworkDescriptor) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN ID\tNAME\tCURRENCY\tRPC")
	for _, n := range networks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", n.ChainID, n.ChainName, n.NativeCurrency.Symbol, n.PrimaryRPC())
	}
	w.Flush()
}
