package main

import (
	"context"

	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/usecase"
)

// seedLessons contains the data the purchase flow needs: one lesson that is
// delivered without an invoice and one priced at a single Star.
func seedLessons(ctx context.Context, lessons usecase.LessonUseCase) {
	for _, l := range []*model.Lesson{
		{Title: "E2E free", ContentType: model.ContentText, ContentText: "free lesson body", Active: true},
		{Title: "E2E paid", Price: 1, ContentType: model.ContentText, ContentText: "paid lesson body", Active: true},
	} {
		if err := lessons.Create(ctx, l); err != nil {
			panic(err)
		}
	}
}
