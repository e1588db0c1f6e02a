package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cmwaters/verdict/tally"
	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

// encodeCommand prints ABI encoded start parameters and choices for use with
// the HTTP API.
func encodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode start parameters and vote choices",
	}
	cmd.AddCommand(encodeMajorityCommand())
	cmd.AddCommand(encodeQuorumCommand())
	cmd.AddCommand(encodeBracketCommand())
	cmd.AddCommand(encodeChoiceCommand())
	cmd.AddCommand(encodeContestantCommand())
	return cmd
}

func printHex(cmd *cobra.Command, data []byte) {
	fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(data))
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}

func encodeMajorityCommand() *cobra.Command {
	var (
		target       string
		expectReturn bool
	)
	cmd := &cobra.Command{
		Use:   "majority",
		Short: "Encode plain majority parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tally.MajorityParams{ExpectReturn: expectReturn}
			if target != "" {
				addr, err := parseAddress(target)
				if err != nil {
					return err
				}
				p.Target = addr
			}
			data, err := tally.EncodeMajorityParams(p)
			if err != nil {
				return err
			}
			printHex(cmd, data)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "call target, defaults to the initiator")
	cmd.Flags().BoolVar(&expectReturn, "expect-return", false, "require the call to return data")
	return cmd
}

func encodeQuorumCommand() *cobra.Command {
	var (
		source       string
		duration     time.Duration
		quorum       uint64
		expectReturn bool
		guard        uint8
	)
	cmd := &cobra.Command{
		Use:   "quorum",
		Short: "Encode weighted quorum parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(source)
			if err != nil {
				return err
			}
			if !voting.GuardMode(guard).Valid() {
				return fmt.Errorf("unknown guard mode %d", guard)
			}
			data, err := tally.EncodeQuorumParams(tally.QuorumParams{
				WeightSource: addr,
				Duration:     duration,
				Quorum:       quorum,
				ExpectReturn: expectReturn,
				Guard:        voting.GuardMode(guard),
			})
			if err != nil {
				return err
			}
			printHex(cmd, data)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "weight source address")
	cmd.Flags().DurationVar(&duration, "duration", 72*time.Hour, "voting window, in whole seconds")
	cmd.Flags().Uint64Var(&quorum, "quorum", 5000, "quorum in basis points of the total supply")
	cmd.Flags().BoolVar(&expectReturn, "expect-return", false, "require the call to return data")
	cmd.Flags().Uint8Var(&guard, "guard", uint8(voting.GuardCaller), "0 none, 1 one vote per caller, 2 one vote per caller and choice")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func encodeBracketCommand() *cobra.Command {
	var (
		offset   uint64
		duration time.Duration
		rounds   uint8
		source   string
	)
	cmd := &cobra.Command{
		Use:   "bracket CONTESTANT...",
		Short: "Encode elimination bracket parameters",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(source)
			if err != nil {
				return err
			}
			contestants := make([]common.Address, len(args))
			for i, arg := range args {
				if contestants[i], err = parseAddress(arg); err != nil {
					return err
				}
			}
			if rounds == 0 {
				rounds = uint8(tally.MaxRounds(len(contestants)))
			}
			data, err := tally.EncodeBracketParams(tally.BracketParams{
				InsertionOffset: offset,
				Duration:        duration,
				Rounds:          rounds,
				WeightSource:    addr,
				Contestants:     contestants,
			})
			if err != nil {
				return err
			}
			printHex(cmd, data)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 4, "payload offset of the 32 byte winner word")
	cmd.Flags().DurationVar(&duration, "duration", 24*time.Hour, "voting window of each round, in whole seconds")
	cmd.Flags().Uint8Var(&rounds, "rounds", 0, "number of rounds, defaults to the most the contestants allow")
	cmd.Flags().StringVar(&source, "source", "", "fungible weight source address")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func encodeChoiceCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "choice for|against|abstain",
		Short:     "Encode a majority or quorum vote",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"for", "against", "abstain"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseChoice(args[0])
			if err != nil {
				return err
			}
			printHex(cmd, tally.EncodeChoice(c))
			return nil
		},
	}
}

func parseChoice(s string) (tally.Choice, error) {
	for _, c := range []tally.Choice{tally.Abstain, tally.For, tally.Against} {
		if s == c.String() {
			return c, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && n <= uint64(tally.Against) {
		return tally.Choice(n), nil
	}
	return 0, errors.New("choice must be for, against or abstain")
}

func encodeContestantCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contestant ADDRESS",
		Short: "Encode a bracket vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			printHex(cmd, tally.EncodeContestant(addr))
			return nil
		},
	}
}
