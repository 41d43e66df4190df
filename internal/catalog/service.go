// Package catalog は蔵書メタデータ（タイトル・著者・タグ）の管理を提供する。
// 貸出状態は扱わない。
package catalog

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
)

// BookInput は蔵書の作成・編集に使う入力。
// 編集時は空のフィールドとnilのTagsは既存値を維持する。
type BookInput struct {
	Title  string
	Author string
	Tags   []string
}

// maxSanitizePasses はエンティティの多重エンコードを展開する回数の上限。
const maxSanitizePasses = 8

// Service は蔵書カタログのサービス層。
type Service struct {
	books  repository.BookRepository
	policy *bluemonday.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// loggerがnilの場合はslog.Default()を使用する。
func NewService(books repository.BookRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		books:  books,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
		now:    time.Now,
	}
}

// GetBook は指定IDの蔵書を返す。
func (s *Service) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return nil, model.NewStorageError("Couldn't get book", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError()
	}
	return book, nil
}

// CreateBook は蔵書を登録する。タイトルは必須。
func (s *Service) CreateBook(ctx context.Context, in BookInput) (*model.Book, error) {
	title := s.sanitize(in.Title)
	if title == "" {
		return nil, model.NewTitleRequiredError()
	}

	now := s.now()
	book := &model.Book{
		ID:        uuid.NewString(),
		Title:     title,
		Author:    s.sanitize(in.Author),
		Tags:      s.sanitizeTags(in.Tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.books.Create(ctx, book); err != nil {
		return nil, model.NewStorageError("Couldn't create book", err)
	}

	s.logger.InfoContext(ctx, "book created", slog.String("book_id", book.ID))
	return book, nil
}

// EditBook は蔵書のメタデータを部分更新する。
func (s *Service) EditBook(ctx context.Context, bookID string, in BookInput) (*model.Book, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if title := s.sanitize(in.Title); title != "" {
		book.Title = title
	}
	if author := s.sanitize(in.Author); author != "" {
		book.Author = author
	}
	if in.Tags != nil {
		book.Tags = s.sanitizeTags(in.Tags)
	}
	book.UpdatedAt = s.now()

	if err := s.books.UpdateMetadata(ctx, book); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewBookNotFoundError()
		}
		return nil, model.NewStorageError("Couldn't edit book", err)
	}
	return book, nil
}

// DeleteBook は蔵書を削除する。貸出・予約の記録は連鎖削除しない。
func (s *Service) DeleteBook(ctx context.Context, bookID string) error {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	if err := s.books.Delete(ctx, book.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewBookNotFoundError()
		}
		return model.NewStorageError("Couldn't delete book", err)
	}

	s.logger.InfoContext(ctx, "book deleted",
		slog.String("book_id", book.ID),
		slog.String("state", string(book.State())),
	)
	return nil
}

// sanitize はHTMLタグを除去し前後の空白を取り除く。
// StrictPolicyは"&"などをエスケープするため元の文字へ戻し、
// 戻した結果にタグが現れなくなるまで除去を繰り返す。
// 上限回数で収まらない場合はエスケープしたままの値を返す。
func (s *Service) sanitize(v string) string {
	for range maxSanitizePasses {
		escaped := s.policy.Sanitize(v)
		out := html.UnescapeString(escaped)
		if out == v {
			return strings.TrimSpace(out)
		}
		v = out
	}
	return strings.TrimSpace(s.policy.Sanitize(v))
}

// sanitizeTags は各タグを整形し、空のタグと重複を取り除く。
func (s *Service) sanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = s.sanitize(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
