package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/any-hub/resource-cache/internal/config"
)

// 进程退出码。
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

// configEnv 覆盖默认配置路径，优先级低于 --config。
const configEnv = "RESOURCE_CACHE_CONFIG"

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	command     string
	args        []string
	indexFormat string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(exitUsage)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	switch opts.command {
	case "help":
		return exitOK
	case "version":
		printVersion()
		return exitOK
	case "check-config":
		return runCheckConfig(opts)
	case "serve", "":
		return runServe(opts)
	case "fetch":
		return runFetch(opts)
	case "list":
		return runList(opts)
	case "put":
		return runPut(opts)
	case "index":
		return runIndex(opts)
	default:
		fmt.Fprintf(stdErr, "未知命令: %s\n", opts.command)
		return exitUsage
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 子命令只记录到 cliOptions 中，不在解析阶段执行。
func parseCLIFlags(args []string) (cliOptions, error) {
	opts := cliOptions{command: "help"}
	var (
		configFlag  string
		checkOnly   bool
		showVersion bool
	)

	record := func(name string) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			opts.command = name
			opts.args = append([]string(nil), args...)
			return nil
		}
	}

	root := &cobra.Command{
		Use:           "resource-cache",
		Short:         "Build-aware cache for remote artifact repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case showVersion:
				opts.command = "version"
			case checkOnly:
				opts.command = "check-config"
			default:
				opts.command = "serve"
			}
			return nil
		},
	}
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.PersistentFlags().StringVar(&configFlag, "config", "", fmt.Sprintf("配置文件路径（默认 ./%s，可被 %s 覆盖）", config.DefaultPath, configEnv))
	root.Flags().BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	root.Flags().BoolVar(&showVersion, "version", false, "显示版本信息")

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Print cached entries",
		Args:  cobra.NoArgs,
		RunE:  record("index"),
	}
	indexCmd.Flags().StringVar(&opts.indexFormat, "format", "table", "输出格式：table|json|yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve cached artifacts over HTTP",
			Args:  cobra.NoArgs,
			RunE:  record("serve"),
		},
		&cobra.Command{
			Use:   "fetch <repository> <path>...",
			Short: "Fetch artifacts into the cache within one build epoch",
			Args:  cobra.MinimumNArgs(2),
			RunE:  record("fetch"),
		},
		&cobra.Command{
			Use:   "list <repository> <path>",
			Short: "List a repository directory",
			Args:  cobra.ExactArgs(2),
			RunE:  record("list"),
		},
		&cobra.Command{
			Use:   "put <repository> <path> <file>",
			Short: "Upload a local file to a repository",
			Args:  cobra.ExactArgs(3),
			RunE:  record("put"),
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the configuration and exit",
			Args:  cobra.NoArgs,
			RunE:  record("check-config"),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			RunE:  record("version"),
		},
		indexCmd,
	)

	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	switch opts.indexFormat {
	case "", "table", "json", "yaml":
	default:
		return cliOptions{}, errors.New("解析参数失败: --format 仅支持 table|json|yaml")
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = config.DefaultPath
	}
	opts.configPath = path
	return opts, nil
}
