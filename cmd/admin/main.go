package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cast"

	"certgen/internal/config"
	"certgen/internal/database"
	"certgen/internal/spreadsheet"
)

// admin 把 xlsx/csv 名单导入为接收人，供批量生成按 member_ids 使用。
func main() {
	var (
		file    = flag.String("file", "", "名单文件 .xlsx 或 .csv（必填）")
		dryRun  = flag.Bool("dry-run", false, "只解析并打印，不写数据库")
		dbHost  = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort  = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName  = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser  = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass  = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	path := strings.TrimSpace(*file)
	if path == "" {
		log.Fatal("missing required flag: --file")
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	rows, err := spreadsheet.Parse(f, path)
	_ = f.Close()
	if err != nil {
		log.Fatalf("parse %s: %v", path, err)
	}
	members, skipped := spreadsheet.Members(rows)
	for _, line := range skipped {
		fmt.Printf("跳过第 %d 行：缺少姓名\n", line)
	}

	if *dryRun {
		for _, m := range members {
			fmt.Printf("%s\t%s\t%s\n", m.Name, m.Email, m.Organization)
		}
		fmt.Printf("共解析 %d 名接收人（dry-run，未写入）\n", len(members))
		return
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}
	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	if err := database.NewMemberStore(db).CreateBatch(context.Background(), members); err != nil {
		log.Fatalf("import members: %v", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, cast.ToString(m.ID))
	}
	fmt.Printf("已导入 %d 名接收人，跳过 %d 行\n", len(members), len(skipped))
	if len(ids) > 0 {
		fmt.Printf("member_ids: %s\n", strings.Join(ids, ","))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	host = firstNonEmpty(host, os.Getenv("DATABASE_HOST"), "localhost")
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := cast.ToIntE(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if port <= 0 {
		port = 5432
	}
	name = firstNonEmpty(name, os.Getenv("POSTGRES_DB"), os.Getenv("DB_NAME"))
	user = firstNonEmpty(user, os.Getenv("POSTGRES_USER"), os.Getenv("DB_USER"))
	password = firstNonEmpty(password, os.Getenv("POSTGRES_PASSWORD"), os.Getenv("DB_PASSWORD"))
	sslmode = firstNonEmpty(sslmode, os.Getenv("DATABASE_SSLMODE"), "disable")

	if name == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if user == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if password == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
