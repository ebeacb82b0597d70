// Command dnanode is the thin CLI wrapper around internal/engine
// (SPEC_FULL.md §4 "Supplemented features"): bootstrap seeding, identity
// backup/recovery, topic and vote operations, one cobra command per
// concern, following the teacher's cmd/synnergy convention of a single
// rootCmd with AddCommand per subsystem.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dna/dht/internal/bootstrap/cache"
	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/collections"
	"github.com/dna/dht/internal/dhtsession"
	"github.com/dna/dht/internal/engine"
	"github.com/dna/dht/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "dnanode"}
	rootCmd.AddCommand(bootstrapCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(topicCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(grouplistCmd())
	rootCmd.AddCommand(contactlistCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires a config, an in-memory session/chunked layer (the real
// DHT transport is an external collaborator per spec.md §2/§4.12, so the
// CLI runs against the in-memory reference implementation unless a real
// backend has been linked in), and a sqlite bootstrap cache rooted under
// the configured cache path.
func buildEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Warn("dnanode: no config file found, using an empty config with no defaults applied")
		cfg = &config.Config{}
	}

	c, err := cache.Open(expandHome(cfg.Bootstrap.CachePath), nil)
	if err != nil {
		return nil, fmt.Errorf("dnanode: open bootstrap cache: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Config:  cfg,
		Session: dhtsession.NewMemSession(),
		Owned:   true,
		Layer:   chunked.NewMemLayer(),
		Cache:   c,
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}

func nowUnix() int64 { return time.Now().Unix() }

func bootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bootstrap"}
	seed := &cobra.Command{
		Use:   "seed",
		Short: "seed the DHT session from the best cached peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			limit, _ := cmd.Flags().GetInt("limit")
			connected, err := eng.SeedFromCache(context.Background(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("connected to %d cached peers\n", connected)
			return nil
		},
	}
	seed.Flags().Int("limit", 20, "maximum number of cached peers to try")
	cmd.AddCommand(seed)
	return cmd
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "identity"}

	backup := &cobra.Command{
		Use:   "backup",
		Short: "generate a new identity and publish its sealed backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			gen, _, err := eng.BackupIdentity(context.Background(), nowUnix())
			if err != nil {
				return err
			}
			fmt.Printf("fingerprint: %s\n", gen.Identity.Fingerprint)
			fmt.Printf("enc_priv (hex, keep secret): %s\n", hex.EncodeToString(gen.EncPriv))
			return nil
		},
	}

	recoverCmd := &cobra.Command{
		Use:   "recover <fingerprint> <enc_priv_hex>",
		Short: "recover an identity from its local or published sealed backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			encPriv, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("decode enc_priv: %w", err)
			}
			_, cert, err := eng.RecoverIdentity(context.Background(), args[0], encPriv)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cert, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.AddCommand(backup, recoverCmd)
	return cmd
}

func topicCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "topic"}

	create := &cobra.Command{
		Use:   "create <author_fp> <category> <title> <body> <sign_priv_hex>",
		Short: "create a feed topic",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			signPriv, err := hex.DecodeString(args[4])
			if err != nil {
				return fmt.Errorf("decode sign_priv: %w", err)
			}
			tp, err := eng.CreateTopic(context.Background(), args[0], args[1], args[2], args[3], nil, signPriv, nowUnix())
			if err != nil {
				return err
			}
			fmt.Println(tp.TopicUUID)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <topic_uuid>",
		Short: "fetch a feed topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			tp, err := eng.GetTopic(context.Background(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(tp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <topic_uuid> <requester_fp> <sign_priv_hex>",
		Short: "soft-delete a feed topic you authored",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			signPriv, err := hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("decode sign_priv: %w", err)
			}
			return eng.DeleteTopic(context.Background(), args[0], args[1], signPriv, nowUnix())
		},
	}

	cmd.AddCommand(create, get, del)
	return cmd
}

func voteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vote"}

	cast := &cobra.Command{
		Use:   "cast <post_id> <voter_fp> <value> <sign_priv_hex>",
		Short: "cast a vote (+1 or -1) on a post",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			var value int
			if _, err := fmt.Sscanf(args[2], "%d", &value); err != nil {
				return fmt.Errorf("parse vote value: %w", err)
			}
			signPriv, err := hex.DecodeString(args[3])
			if err != nil {
				return fmt.Errorf("decode sign_priv: %w", err)
			}
			agg, err := eng.CastVote(context.Background(), args[0], args[1], value, signPriv, nowUnix())
			if err != nil {
				return err
			}
			fmt.Printf("upvotes=%d downvotes=%d\n", agg.UpvoteCount, agg.DownvoteCount)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <post_id> <voter_fp> <voter_pub_hex>",
		Short: "load and verify a post's vote aggregate against one known voter key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			knownFP := args[1]
			pub, err := hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("decode voter_pub: %w", err)
			}
			lookup := func(fp string) ([]byte, bool) {
				if fp == knownFP {
					return pub, true
				}
				return nil, false
			}
			agg, err := eng.LoadVotes(context.Background(), args[0], lookup)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(agg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.AddCommand(cast, getCmd)
	return cmd
}

func grouplistCmd() *cobra.Command {
	return listCmd("grouplist", "group", func(e *engine.Engine) listFuncs { return listFuncs{e.PublishGroupList, e.FetchGroupList} })
}

func contactlistCmd() *cobra.Command {
	return listCmd("contactlist", "contact", func(e *engine.Engine) listFuncs { return listFuncs{e.PublishContactList, e.FetchContactList} })
}

type listFuncs struct {
	publish func(ctx context.Context, fp string, items []string, signPriv, encPub []byte, now int64) error
	fetch   func(ctx context.Context, fp string, encPriv, signPub []byte, now int64) (*collections.Payload, error)
}

// listCmd builds the shared "publish/get" pair for grouplist and
// contactlist, which differ only in their item noun and the Engine methods
// they call.
func listCmd(use, noun string, funcsFor func(*engine.Engine) listFuncs) *cobra.Command {
	cmd := &cobra.Command{Use: use}

	publish := &cobra.Command{
		Use:   fmt.Sprintf("publish <fp> <sign_priv_hex> <enc_pub_hex> <%s1,%s2,...>", noun, noun),
		Short: fmt.Sprintf("self-encrypt and publish fp's %s list", noun),
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			signPriv, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("decode sign_priv: %w", err)
			}
			encPub, err := hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("decode enc_pub: %w", err)
			}
			items := strings.Split(args[3], ",")
			return funcsFor(eng).publish(context.Background(), args[0], items, signPriv, encPub, nowUnix())
		},
	}

	get := &cobra.Command{
		Use:   "get <fp> <enc_priv_hex> <sign_pub_hex>",
		Short: fmt.Sprintf("fetch and decrypt fp's own %s list", noun),
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()
			encPriv, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("decode enc_priv: %w", err)
			}
			signPub, err := hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("decode sign_pub: %w", err)
			}
			payload, err := funcsFor(eng).fetch(context.Background(), args[0], encPriv, signPub, nowUnix())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.AddCommand(publish, get)
	return cmd
}
