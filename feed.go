package main

import (
	"encoding/xml"
	"net/http"
	"time"
)

const feedSize = 20

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Author      string `xml:"author,omitempty"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Feed serves the latest posts as RSS 2.0 with rendered HTML bodies.
func (b *Blog) Feed(w http.ResponseWriter, r *http.Request) {
	posts, err := b.getPosts(r.Context(), "")
	if err != nil {
		b.serverError(w, r, "loading feed posts", err)
		return
	}
	if len(posts) > feedSize {
		posts = posts[:feedSize]
	}

	base := requestBaseURL(r)
	feed := rss{
		Version: "2.0",
		Channel: rssChannel{
			Title:       b.cfg.Blog.Title,
			Link:        base + "/posts",
			Description: b.cfg.Blog.Description,
		},
	}

	for _, p := range posts {
		item := rssItem{
			Title:       p.Title,
			Link:        base + "/p/" + p.Slug,
			GUID:        base + "/posts/" + p.ID,
			PubDate:     p.CreatedAt.UTC().Format(time.RFC1123Z),
			Description: p.Content,
		}
		if p.Author != nil {
			item.Author = p.Author.Name
		}
		feed.Channel.Items = append(feed.Channel.Items, item)
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		b.logger.ErrorContext(r.Context(), "encoding feed", "error", err)
	}
}
