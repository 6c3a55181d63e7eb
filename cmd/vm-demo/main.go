package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/Nirvanko/php-src/runtime"
	"github.com/Nirvanko/php-src/values"
	"github.com/Nirvanko/php-src/version"
	"github.com/Nirvanko/php-src/vm"
)

func main() {
	app := &cli.Command{
		Name:  "vm-demo",
		Usage: "Drive hand-assembled generator bodies through the VM",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "version",
				Local: true,
				Usage: "Show version",
			},
			&cli.BoolFlag{
				Name:  "list",
				Local: true,
				Usage: "List available demo bodies",
			},
			&cli.StringFlag{
				Name:    "body",
				Local:   true,
				Aliases: []string{"b"},
				Usage:   "Run demo <body> and print each key/value pair",
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Local:   true,
				Aliases: []string{"a"},
				Usage:   "Step the selected body one resume per line",
			},
			&cli.IntFlag{
				Name:  "send",
				Local: true,
				Usage: "Value passed to send() after the first yield",
				Value: 40,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Println(version.Version())
				return nil
			}
			if cmd.Bool("list") {
				names := make([]string, 0, len(demoBodies))
				for name := range demoBodies {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Println(name)
				}
				return nil
			}
			name := cmd.String("body")
			if name == "" {
				name = "counter"
			}
			build, ok := demoBodies[name]
			if !ok {
				return fmt.Errorf("unknown demo body %q (use --list)", name)
			}
			if cmd.Bool("interactive") {
				return runInteractive(build())
			}
			return runDemo(build(), int(cmd.Int("send")))
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "vm-demo:", err)
		os.Exit(1)
	}
}

func newSession() (*vm.VirtualMachine, *vm.ExecutionContext, error) {
	if err := runtime.Bootstrap(); err != nil {
		return nil, nil, err
	}
	machine := vm.NewVirtualMachine()
	ctx := vm.NewExecutionContext()
	return machine, ctx, nil
}

func runDemo(body demoBody, sendValue int) error {
	machine, ctx, err := newSession()
	if err != nil {
		return err
	}
	obj, err := machine.Call(ctx, body.fn, nil, nil)
	if err != nil {
		return err
	}
	defer machine.ReleaseObject(ctx, obj)

	gen := vm.FromObject(obj)
	first := true
	for {
		valid, err := gen.Valid()
		if err != nil {
			return err
		}
		if !valid {
			break
		}
		key, err := gen.Key()
		if err != nil {
			return err
		}
		val, err := gen.Current()
		if err != nil {
			return err
		}
		fmt.Printf("%s => %s\n", key.ToString(), val.ToString())
		key.Release()
		val.Release()

		if body.wantsSend && first {
			first = false
			sent := values.NewInt(int64(sendValue))
			result, err := gen.Send(sent)
			sent.Release()
			if err != nil {
				return err
			}
			fmt.Printf("send(%d) => %s\n", sendValue, result.ToString())
			result.Release()
			continue
		}
		if err := gen.Next(); err != nil {
			return err
		}
	}
	return nil
}

func runInteractive(body demoBody) error {
	machine, ctx, err := newSession()
	if err != nil {
		return err
	}
	obj, err := machine.Call(ctx, body.fn, nil, nil)
	if err != nil {
		return err
	}
	defer machine.ReleaseObject(ctx, obj)
	gen := vm.FromObject(obj)

	rl, err := readline.New("gen> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("press enter to resume, q to quit")
	for {
		valid, err := gen.Valid()
		if err != nil {
			return err
		}
		if !valid {
			fmt.Println("generator finished")
			return nil
		}
		key, err := gen.Key()
		if err != nil {
			return err
		}
		val, err := gen.Current()
		if err != nil {
			return err
		}
		fmt.Printf("%s => %s\n", key.ToString(), val.ToString())
		key.Release()
		val.Release()

		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF || line == "q" {
			return nil
		}
		if err != nil {
			return err
		}
		if err := gen.Next(); err != nil {
			return err
		}
	}
}
