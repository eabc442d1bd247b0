package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/epscrape/internal/app/run"
	"github.com/John-Robertt/epscrape/internal/config"
	"github.com/John-Robertt/epscrape/internal/domain"
	"github.com/John-Robertt/epscrape/internal/infra/fsx"
	"github.com/John-Robertt/epscrape/internal/logging"
	"github.com/John-Robertt/epscrape/internal/provider/imdb"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute 返回进程退出码：0 成功；1 运行失败（配置/抓取/抽取/写入）；2 参数错误。
func execute(args []string, stdout, stderr io.Writer) int {
	code := 0
	cmd := newRootCommand(stdout, stderr, &code)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
		fmt.Fprint(stderr, cmd.UsageString())
		return 2
	}
	return code
}

func newRootCommand(stdout, stderr io.Writer, code *int) *cobra.Command {
	var cli config.CLIArgs

	cmd := &cobra.Command{
		Use:           "epscrape",
		Short:         "抓取剧集每季的 episode 评分并导出为 CSV",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			cli.FromSet = f.Changed("from")
			cli.ToSet = f.Changed("to")
			cli.ConcurrencySet = f.Changed("concurrency")
			cli.SkipInvalidSet = f.Changed("skip-invalid")
			cli.OfflineSet = f.Changed("offline")
			*code = runCmd(cmd.Context(), cli, stdout, stderr)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cli.ConfigPath, "config", "c", "", "配置文件路径（默认读取 ./"+config.DefaultFileName+"，不存在则忽略）")
	f.StringVarP(&cli.Output, "output", "o", "", "输出 CSV 路径（默认 eps_df.csv）")
	f.StringVar(&cli.SeriesID, "series", "", "IMDb 剧集 ID（默认 tt0458290）")
	f.IntVar(&cli.From, "from", config.DefaultFrom, "起始季（含）")
	f.IntVar(&cli.To, "to", config.DefaultTo, "结束季（含）")
	f.IntVarP(&cli.Concurrency, "concurrency", "j", config.DefaultConcurrency, "并发抓取的季数（输出顺序不受影响）")
	f.BoolVar(&cli.SkipInvalid, "skip-invalid", false, "跳过字段缺失的 episode 并记录 warning（默认整次运行失败）")
	f.BoolVar(&cli.Offline, "offline", false, "只从 --cache-dir 读取页面，不访问网络")
	f.StringVar(&cli.CacheDir, "cache-dir", "", "页面缓存目录（为空则不缓存）")
	f.StringVar(&cli.Report, "report", "", "额外写出 RunReport JSON 的路径")
	f.StringVar(&cli.LogLevel, "log-level", "", "日志级别：debug|info|warn|error")
	f.StringVar(&cli.LayoutVersion, "layout", "", "页面结构版本（例如 ipl-2022、ipc-2023）")

	return cmd
}

func runCmd(ctx context.Context, cli config.CLIArgs, stdout, stderr io.Writer) int {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	interactive := isTTY(stderr)
	level := eff.LogLevel
	if interactive && level == "info" {
		// 交互终端下由进度行展示 info 级信息，日志只保留 warning 以上。
		level = "warn"
	}
	log, err := logging.New(stderr, level)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	var obs run.Observer
	if interactive {
		obs = newProgressUI(stderr)
	}

	src := imdb.Provider{BaseURL: eff.BaseURL, Series: eff.SeriesID, Layout: eff.Layout}
	rr, runErr := run.Execute(ctx, eff, src, run.Deps{Logger: log, Observer: obs})

	code := 0
	if runErr != nil {
		code = 1
	}
	if eff.ReportPath != "" {
		if err := writeReportFile(eff.ReportPath, rr); err != nil {
			fmt.Fprintf(stderr, "写入 report 失败：%v\n", err)
			code = 1
		}
	}

	if err := emitReport(stdout, stderr, rr); err != nil {
		fmt.Fprintf(stderr, "输出 report 失败：%v\n", err)
		code = 1
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "失败：%v\n", runErr)
	}
	return code
}

// emitReport：stdout 是 TTY 时输出季表格；否则 stdout 必须且仅输出一个 RunReport JSON。
// 摘要行总是写 stderr。
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) error {
	var err error
	if isTTY(stdout) {
		_, err = fmt.Fprintln(stdout, renderSeasonTable(rr))
	} else {
		err = json.NewEncoder(stdout).Encode(rr)
	}
	status := "ok"
	if !rr.OK() {
		status = "failed"
	}
	fmt.Fprintf(stderr, "完成：status=%s seasons=%d episodes=%d skipped=%d empty=%d failed=%d\n",
		status, rr.Summary.Seasons, rr.Summary.Episodes, rr.Summary.Skipped, rr.Summary.Empty, rr.Summary.Failed,
	)
	return err
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
