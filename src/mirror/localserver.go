package mirror

import (
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"git.handmade.network/hmn/tutorials/src/logging"
	"github.com/go-chi/chi/v5"
)

/*
LocalServer is just enough of the S3 API to develop against without a
bucket: buckets are directories and objects are files in them, with the
slashes of the key replaced by "~".
*/
func LocalServer(root string) http.Handler {
	l := &localServer{root: root}

	r := chi.NewRouter()
	r.Use(l.logRequests)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s3Error(w, http.StatusNotImplemented, "NotImplemented", r.Method+" is not supported")
	})
	r.Route("/{bucket}", func(r chi.Router) {
		r.Use(l.checkBucketName)
		r.Put("/", l.createBucket)
		r.Get("/", l.listObjects)
		r.Put("/*", l.putObject)
		r.Get("/*", l.getObject)
		r.Delete("/*", l.deleteObject)
	})
	return r
}

type localServer struct {
	root string
}

func (l *localServer) bucketDir(r *http.Request) string {
	return filepath.Join(l.root, chi.URLParam(r, "bucket"))
}

func (l *localServer) objectPath(r *http.Request) string {
	return filepath.Join(l.bucketDir(r), flatten(chi.URLParam(r, "*")))
}

func (l *localServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("local mirror request")
		next.ServeHTTP(w, r)
	})
}

func (l *localServer) checkBucketName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(chi.URLParam(r, "bucket"), ".") {
			s3Error(w, http.StatusBadRequest, "InvalidBucketName", "bad bucket name")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *localServer) createBucket(w http.ResponseWriter, r *http.Request) {
	if err := os.MkdirAll(l.bucketDir(r), 0755); err != nil {
		s3Error(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.Header().Set("Location", "/"+chi.URLParam(r, "bucket"))
}

func (l *localServer) putObject(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s3Error(w, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}
	if !exists(l.bucketDir(r)) {
		s3Error(w, http.StatusNotFound, "NoSuchBucket", "no bucket "+chi.URLParam(r, "bucket"))
		return
	}
	if err := os.WriteFile(l.objectPath(r), body, 0644); err != nil {
		s3Error(w, http.StatusInternalServerError, "InternalError", err.Error())
	}
}

func (l *localServer) getObject(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(l.objectPath(r))
	if errors.Is(err, fs.ErrNotExist) {
		s3Error(w, http.StatusNotFound, "NoSuchKey", "no key "+chi.URLParam(r, "*"))
		return
	} else if err != nil {
		s3Error(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.Write(data)
}

func (l *localServer) deleteObject(w http.ResponseWriter, r *http.Request) {
	err := os.Remove(l.objectPath(r))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s3Error(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func flatten(key string) string {
	return strings.ReplaceAll(key, "/", "~")
}

func exists(dir string) bool {
	_, err := os.Stat(dir)
	return err == nil
}

type listedObject struct {
	Key  string `xml:"Key"`
	Size int64  `xml:"Size"`
}

type listBucketResult struct {
	XMLName     xml.Name       `xml:"ListBucketResult"`
	Name        string         `xml:"Name"`
	Prefix      string         `xml:"Prefix"`
	KeyCount    int            `xml:"KeyCount"`
	IsTruncated bool           `xml:"IsTruncated"`
	Contents    []listedObject `xml:"Contents"`
}

func (l *localServer) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	prefix := r.URL.Query().Get("prefix")
	entries, err := os.ReadDir(l.bucketDir(r))
	if errors.Is(err, fs.ErrNotExist) {
		s3Error(w, http.StatusNotFound, "NoSuchBucket", "no bucket "+bucket)
		return
	} else if err != nil {
		s3Error(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	res := listBucketResult{Name: bucket, Prefix: prefix}
	for _, e := range entries {
		key := strings.ReplaceAll(e.Name(), "~", "/")
		if e.IsDir() || !strings.HasPrefix(key, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		res.Contents = append(res.Contents, listedObject{Key: key, Size: info.Size()})
	}
	sort.Slice(res.Contents, func(i, j int) bool { return res.Contents[i].Key < res.Contents[j].Key })
	res.KeyCount = len(res.Contents)

	writeXML(w, http.StatusOK, res)
}

type errorResult struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func s3Error(w http.ResponseWriter, status int, code, message string) {
	writeXML(w, status, errorResult{Code: code, Message: message})
}

func writeXML(w http.ResponseWriter, status int, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Length", strconv.Itoa(len(xml.Header)+len(body)))
	w.WriteHeader(status)
	io.WriteString(w, xml.Header)
	w.Write(body)
}
