package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/apollo/internal/catalog"
	"github.com/hitoshi/apollo/internal/model"
)

// CatalogServiceInterface は蔵書ハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
	CreateBook(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	EditBook(ctx context.Context, bookID string, in catalog.BookInput) (*model.Book, error)
	DeleteBook(ctx context.Context, bookID string) error
}

// BookHandler は蔵書管理のHTTPハンドラー。
type BookHandler struct {
	service CatalogServiceInterface
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service CatalogServiceInterface) *BookHandler {
	return &BookHandler{service: service}
}

// bookRequest は蔵書の登録・編集リクエストのボディ。
// 編集時に省略した項目は変更しない。
type bookRequest struct {
	Title  string   `json:"title"`
	Author string   `json:"author"`
	Tags   []string `json:"tags"`
}

func (req bookRequest) input() catalog.BookInput {
	return catalog.BookInput{Title: req.Title, Author: req.Author, Tags: req.Tags}
}

// CreateBook は蔵書を登録する。
// POST /books
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeBody(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	book, err := h.service.CreateBook(r.Context(), req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"book": toBookResponse(book)})
}

// GetBook は蔵書を返す。
// GET /books/{bookID}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"book": toBookResponse(book)})
}

// EditBook は蔵書のメタデータを更新する。
// PUT /books/{bookID}
func (h *BookHandler) EditBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeBody(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	book, err := h.service.EditBook(r.Context(), chi.URLParam(r, "bookID"), req.input())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"book": toBookResponse(book)})
}

// DeleteBook は蔵書を削除する。
// DELETE /books/{bookID}
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "bookID")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}
