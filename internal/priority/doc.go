// Package priority selects context the user almost certainly wants ahead of
// anything retrieval finds: the active selection, the visible editor content
// when the query refers to it, or the workspace README for project-level
// questions. Rules are an ordered table and exactly one fires per query.
package priority
