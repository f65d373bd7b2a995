package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/crypto"
)

func main() {
	if err := NewCLI().root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// CLI is the Cobra-based command-line interface.
type CLI struct {
	root *cobra.Command
}

func NewCLI() *CLI {
	cli := &CLI{}
	cli.root = &cobra.Command{
		Use:           "sign-tx",
		Short:         "Sign limit-order exchange transactions with EIP-712",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cli.root.PersistentFlags().String("key", "", "Hex private key of the caller")
	cli.root.PersistentFlags().String("seed", "", "Derive the caller key from a seed string (devnet only)")
	cli.root.PersistentFlags().Int64("chain-id", 1337, "Chain id of the signing domain")

	cli.root.AddCommand(cli.keygenCmd(), cli.signCmd(), cli.recoverCmd())
	return cli
}

func (cli *CLI) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\nPrivate Key: %s (KEEP SECRET!)\n",
				signer.Address().Hex(), signer.PrivateKeyHex())
			return nil
		},
	}
}

func (cli *CLI) signCmd() *cobra.Command {
	var (
		payload transaction.CallPayload
		nonce   uint64
		submit  string
	)
	cmd := &cobra.Command{
		Use:   "sign <deposit|withdraw|create_order|cancel_order|fulfill_order|match_orders>",
		Short: "Sign a call and print the transaction JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := transaction.TxType(args[0])
			if !method.Valid() {
				return fmt.Errorf("unknown method %q", args[0])
			}
			signer, err := cli.signer(cmd)
			if err != nil {
				return err
			}
			chainID, err := cmd.Flags().GetInt64("chain-id")
			if err != nil {
				return err
			}

			payload.Caller = signer.Address().Hex()
			payload.Nonce = strconv.FormatUint(nonce, 10)
			call, err := payload.ToEIP712(method)
			if err != nil {
				return err
			}
			tx, err := transaction.Sign(crypto.NewEIP712Signer(crypto.DomainForChain(chainID)), signer, call)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(tx, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if submit == "" {
				return nil
			}
			raw, err := tx.Serialize()
			if err != nil {
				return err
			}
			return post(cmd.OutOrStdout(), submit, raw)
		},
	}

	f := cmd.Flags()
	f.Uint64Var(&nonce, "nonce", 1, "Caller nonce; must exceed the last accepted one")
	f.StringVar(&payload.Asset, "asset", "", "Attached asset (ticker or 0x id); withdraw asset for withdraw")
	f.StringVar(&payload.Amount, "amount", "0", "Attached amount; withdraw amount for withdraw")
	f.BoolVar(&payload.FromBalance, "from-balance", false, "Fund the attachment from the exchange balance")
	f.StringVar(&payload.AssetOut, "asset-out", "", "Asset the order asks for")
	f.StringVar(&payload.AmountOut, "amount-out", "0", "Amount the order asks for")
	f.StringVar(&payload.MatcherFee, "fee", "0", "Matcher fee in the attached asset")
	f.StringVar(&payload.OrderID, "order", "0", "Order id")
	f.StringVar(&payload.CounterOrderID, "counter-order", "0", "Second order id for match_orders")
	f.StringVar(&submit, "submit", "", "POST the transaction to this API base URL, e.g. http://localhost:8080")
	return cmd
}

func (cli *CLI) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover [file|-]",
		Short: "Print the address that signed a transaction JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if len(args) == 0 || args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			chainID, err := cmd.Flags().GetInt64("chain-id")
			if err != nil {
				return err
			}

			tx, err := transaction.ParseTransaction(raw)
			if err != nil {
				return err
			}
			signer, err := transaction.NewVerifier(crypto.DomainForChain(chainID)).RecoverSigner(tx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signer: %s\nCaller: %s\nMatches: %t\n",
				signer.Hex(), tx.Call.Caller, strings.EqualFold(signer.Hex(), tx.Call.Caller))
			return nil
		},
	}
}

func (cli *CLI) signer(cmd *cobra.Command) (*crypto.Signer, error) {
	key, _ := cmd.Flags().GetString("key")
	seed, _ := cmd.Flags().GetString("seed")
	switch {
	case key != "" && seed != "":
		return nil, fmt.Errorf("--key and --seed are mutually exclusive")
	case key != "":
		return crypto.FromPrivateKeyHex(key)
	case seed != "":
		return crypto.FromSeed(seed)
	}
	return nil, fmt.Errorf("one of --key or --seed is required")
}

func post(w io.Writer, base string, raw []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(base+"/api/v1/txs", "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit failed: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	fmt.Fprintf(w, "Submitted: %s\n", bytes.TrimSpace(body))
	return nil
}
